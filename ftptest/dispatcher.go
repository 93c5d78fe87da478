package ftptest

import "strings"

// HandleCommand routes one command line to its handler. It reports whether the
// session should end.
func (sess *session) HandleCommand(command string) bool {
	parts := strings.Fields(command)
	if len(parts) == 0 {
		return false
	}

	cmd := strings.ToUpper(parts[0])
	args := ""
	if len(parts) > 1 {
		args = strings.Join(parts[1:], " ")
	}

	if r, ok := sess.server.override(cmd); ok {
		sess.SendResponse(r.Code, r.Message)
		return false
	}

	switch cmd {
	// Login
	case "USER":
		sess.HandleUSER(args)
	case "PASS":
		sess.HandlePASS(args)
	case "QUIT":
		sess.SendResponse(221, "Goodbye")
		return true

	// Basic system commands
	case "SYST":
		sess.SendResponse(215, "UNIX Type: L8")
	case "TYPE":
		sess.HandleTYPE(args)
	case "NOOP":
		sess.SendResponse(200, "NOOP command successful")

	// Directory commands
	case "PWD":
		sess.HandlePWD()
	case "CWD":
		sess.HandleCWD(args)
	case "MKD":
		sess.HandleMKD(args)
	case "DELE":
		sess.HandleDELE(args)

	// Data connection commands
	case "PASV":
		sess.HandlePASV()
	case "PORT":
		sess.HandlePORT(args)
	case "REST":
		sess.HandleREST(args)

	// File transfer commands
	case "LIST":
		sess.HandleLIST(args)
	case "RETR":
		sess.HandleRETR(args)
	case "STOR":
		sess.HandleSTOR(args)

	default:
		sess.SendResponse(502, "Command not implemented")
	}
	return false
}
