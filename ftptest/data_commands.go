package ftptest

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"strings"
	"time"
)

const dataTimeout = 5 * time.Second

// HandlePASV opens a listener and advertises it.
func (sess *session) HandlePASV() {
	sess.withAuth(func() {
		sess.CloseDataConnection()

		ln, err := net.Listen("tcp4", "127.0.0.1:0")
		if err != nil {
			sess.SendResponse(425, "Can't open passive listener")
			return
		}
		sess.pasvListener = ln
		sess.activeAddr = ""

		port := ln.Addr().(*net.TCPAddr).Port
		sess.SendResponse(227, fmt.Sprintf("Entering Passive Mode (127,0,0,1,%d,%d).", port/256, port%256))
	})
}

// HandlePORT remembers where to connect for the next transfer.
func (sess *session) HandlePORT(portCmd string) {
	sess.withAuth(func() {
		parts := strings.Split(portCmd, ",")
		if len(parts) != 6 {
			sess.SendResponse(501, "Syntax error in parameters")
			return
		}

		ip := strings.Join(parts[0:4], ".")
		p1, err1 := strconv.Atoi(parts[4])
		p2, err2 := strconv.Atoi(parts[5])
		if err1 != nil || err2 != nil || net.ParseIP(ip) == nil {
			sess.SendResponse(501, "Syntax error in parameters")
			return
		}

		sess.CloseDataConnection()
		sess.activeAddr = net.JoinHostPort(ip, strconv.Itoa(p1*256+p2))
		sess.LogPrintf("PORT command: %s", sess.activeAddr)
		sess.SendResponse(200, "PORT command successful")
	})
}

// HandleREST sets the restart offset for the next RETR or STOR.
func (sess *session) HandleREST(offset string) {
	sess.withAuth(func() {
		pos, err := strconv.ParseInt(offset, 10, 64)
		if err != nil || pos < 0 {
			sess.SendResponse(501, "Invalid restart position")
			return
		}
		sess.restartPos = pos
		sess.SendResponse(350, fmt.Sprintf("Restart position accepted (%d)", pos))
	})
}

// HandleLIST sends an ls -l style listing.
func (sess *session) HandleLIST(p string) {
	sess.withAuth(func() {
		// Ignore ls flags such as -a.
		if strings.HasPrefix(p, "-") {
			p = ""
		}
		entries, err := os.ReadDir(sess.GetFullSystemPath(sess.ResolvePath(p)))
		if err != nil {
			sess.SendResponse(550, "Failed to list directory")
			return
		}

		var listing bytes.Buffer
		for _, entry := range entries {
			info, err := entry.Info()
			if err != nil {
				continue
			}
			perms := "-rw-r--r--"
			if info.IsDir() {
				perms = "drwxr-xr-x"
			}
			fmt.Fprintf(&listing, "%s %3d %-8s %-8s %8d %s %s\r\n",
				perms, 1, "owner", "group", info.Size(),
				info.ModTime().Format("Jan 02 15:04"), info.Name())
		}

		dataConn, err := sess.OpenDataConnection()
		if err != nil {
			sess.SendResponse(425, "Can't open data connection")
			return
		}
		sess.SendResponse(150, "Here comes the directory listing")

		if _, err := sess.copyData(dataConn, &listing); err != nil {
			sess.CloseDataConnection()
			sess.SendResponse(426, "Connection closed; transfer aborted")
			return
		}
		sess.CloseDataConnection()
		sess.finish("Directory send OK")
	})
}

// HandleRETR sends a file, starting at the restart offset if one was set.
func (sess *session) HandleRETR(filename string) {
	sess.withAuth(func() {
		sess.withValidParam(filename, func() {
			sess.withExistingFile(filename, func(_, fullPath string, info os.FileInfo) {
				offset := sess.restartPos
				sess.restartPos = 0

				file, err := os.Open(fullPath)
				if err != nil {
					sess.SendResponse(550, fmt.Sprintf("Failed to open file: %v", err))
					return
				}
				defer file.Close()
				if offset > 0 {
					if _, err := file.Seek(offset, io.SeekStart); err != nil {
						sess.SendResponse(550, "Failed to seek")
						return
					}
				}

				dataConn, err := sess.OpenDataConnection()
				if err != nil {
					sess.SendResponse(425, "Can't open data connection")
					return
				}
				sess.SendResponse(150, fmt.Sprintf("Opening data connection for %s (%d bytes)", filename, info.Size()-offset))

				if _, err := sess.copyData(dataConn, file); err != nil {
					sess.CloseDataConnection()
					sess.SendResponse(426, "Connection closed; transfer aborted")
					return
				}
				sess.CloseDataConnection()
				sess.finish("Transfer complete")
			})
		})
	})
}

// HandleSTOR receives a file.
func (sess *session) HandleSTOR(filename string) {
	sess.withAuth(func() {
		sess.withValidParam(filename, func() {
			fullPath := sess.GetFullSystemPath(sess.ResolvePath(filename))
			offset := sess.restartPos
			sess.restartPos = 0

			flags := os.O_WRONLY | os.O_CREATE | os.O_TRUNC
			if offset > 0 {
				flags = os.O_WRONLY | os.O_CREATE
			}
			file, err := os.OpenFile(fullPath, flags, 0o644)
			if err != nil {
				sess.SendResponse(553, fmt.Sprintf("Failed to open file: %v", err))
				return
			}
			defer file.Close()
			if offset > 0 {
				if _, err := file.Seek(offset, io.SeekStart); err != nil {
					sess.SendResponse(550, "Failed to seek")
					return
				}
			}

			dataConn, err := sess.OpenDataConnection()
			if err != nil {
				sess.SendResponse(425, "Can't open data connection")
				return
			}
			sess.SendResponse(150, fmt.Sprintf("Opening data connection for %s", filename))

			if _, err := io.Copy(file, dataConn); err != nil {
				sess.CloseDataConnection()
				sess.SendResponse(426, "Connection closed; transfer aborted")
				return
			}
			sess.CloseDataConnection()
			sess.finish("Transfer complete")
		})
	})
}

// OpenDataConnection accepts on the passive listener or dials the PORT address.
func (sess *session) OpenDataConnection() (net.Conn, error) {
	switch {
	case sess.pasvListener != nil:
		ln := sess.pasvListener
		sess.pasvListener = nil
		defer ln.Close()
		if tl, ok := ln.(*net.TCPListener); ok {
			tl.SetDeadline(time.Now().Add(dataTimeout))
		}
		conn, err := ln.Accept()
		if err != nil {
			return nil, err
		}
		sess.dataConn = conn
		return conn, nil
	case sess.activeAddr != "":
		addr := sess.activeAddr
		sess.activeAddr = ""
		conn, err := net.DialTimeout("tcp", addr, dataTimeout)
		if err != nil {
			return nil, err
		}
		sess.dataConn = conn
		return conn, nil
	default:
		return nil, errors.New("no PASV or PORT before transfer")
	}
}

// CloseDataConnection drops any data connection or pending listener.
func (sess *session) CloseDataConnection() {
	if sess.dataConn != nil {
		sess.dataConn.Close()
		sess.dataConn = nil
	}
	if sess.pasvListener != nil {
		sess.pasvListener.Close()
		sess.pasvListener = nil
	}
}

// finish sends the completion reply, or the one the test forced.
func (sess *session) finish(message string) {
	if r := sess.server.finalReply; r != nil {
		sess.SendResponse(r.Code, r.Message)
		return
	}
	sess.SendResponse(226, message)
}

// copyData writes src to the data connection, pausing between chunks when the
// server was built with WithDataDelay.
func (sess *session) copyData(dst io.Writer, src io.Reader) (int64, error) {
	delay := sess.server.dataDelay
	if delay <= 0 {
		return io.Copy(dst, src)
	}

	var total int64
	buf := make([]byte, 16*1024)
	for {
		n, err := src.Read(buf)
		if n > 0 {
			time.Sleep(delay)
			w, werr := dst.Write(buf[:n])
			total += int64(w)
			if werr != nil {
				return total, werr
			}
		}
		if err == io.EOF {
			return total, nil
		}
		if err != nil {
			return total, err
		}
	}
}
