package ftptest

import (
	"fmt"
	"os"
	"strings"
)

// Login commands

func (sess *session) HandleUSER(username string) {
	password, ok := sess.server.users[username]
	if !ok {
		sess.SendResponse(530, "User not found")
		return
	}
	sess.user = username
	if password == "" {
		sess.authenticated = true
		sess.SendResponse(230, fmt.Sprintf("User %s logged in", username))
		return
	}
	sess.SendResponse(331, fmt.Sprintf("User %s OK. Password required", username))
}

func (sess *session) HandlePASS(password string) {
	if sess.user == "" {
		sess.SendResponse(503, "Login with USER first")
		return
	}
	if sess.server.users[sess.user] != password {
		sess.SendResponse(530, "Login incorrect")
		return
	}
	sess.authenticated = true
	sess.SendResponse(230, fmt.Sprintf("User %s logged in", sess.user))
}

// HandleTYPE sets ASCII or binary representation.
func (sess *session) HandleTYPE(typeStr string) {
	sess.withAuth(func() {
		switch strings.ToUpper(typeStr) {
		case "A":
			sess.transferType = "A"
			sess.SendResponse(200, "Switching to ASCII mode")
		case "I":
			sess.transferType = "I"
			sess.SendResponse(200, "Switching to Binary mode")
		default:
			sess.SendResponse(504, "Command not implemented for that parameter")
		}
	})
}

// Directory commands

func (sess *session) HandlePWD() {
	sess.withAuth(func() {
		sess.SendResponse(257, fmt.Sprintf(`"%s" is the current directory`, sess.currentDir))
	})
}

func (sess *session) HandleCWD(dir string) {
	sess.withAuth(func() {
		sess.withValidParam(dir, func() {
			sess.withExistingDirectory(dir, func(dirPath, _ string) {
				sess.currentDir = dirPath
				sess.SendResponse(250, fmt.Sprintf(`CWD command successful. "%s" is current directory`, dirPath))
			})
		})
	})
}

func (sess *session) HandleMKD(dir string) {
	sess.withAuth(func() {
		sess.withValidParam(dir, func() {
			dirPath := sess.ResolvePath(dir)
			if err := os.Mkdir(sess.GetFullSystemPath(dirPath), 0o755); err != nil {
				sess.SendResponse(550, "Create directory operation failed")
				return
			}
			sess.SendResponse(257, fmt.Sprintf(`"%s" created`, dirPath))
		})
	})
}

func (sess *session) HandleDELE(name string) {
	sess.withAuth(func() {
		sess.withValidParam(name, func() {
			sess.withExistingFile(name, func(_, fullPath string, _ os.FileInfo) {
				if err := os.Remove(fullPath); err != nil {
					sess.SendResponse(550, "Delete operation failed")
					return
				}
				sess.SendResponse(250, "Delete operation successful")
			})
		})
	})
}
