package ftptest

import (
	"os"
	"path"
	"path/filepath"
)

func (sess *session) withAuth(handler func()) {
	if !sess.authenticated {
		sess.SendResponse(530, "Not logged in")
		return
	}
	handler()
}

func (sess *session) withValidParam(param string, handler func()) {
	if param == "" {
		sess.SendResponse(501, "Syntax error in parameters")
		return
	}
	handler()
}

func (sess *session) withExistingFile(filename string, handler func(string, string, os.FileInfo)) {
	filePath := sess.ResolvePath(filename)
	fullPath := sess.GetFullSystemPath(filePath)

	fileInfo, err := os.Stat(fullPath)
	if err != nil || fileInfo.IsDir() {
		sess.SendResponse(550, "File not found")
		return
	}

	handler(filePath, fullPath, fileInfo)
}

func (sess *session) withExistingDirectory(dirname string, handler func(string, string)) {
	dirPath := sess.ResolvePath(dirname)
	fullPath := sess.GetFullSystemPath(dirPath)

	fileInfo, err := os.Stat(fullPath)
	if err != nil {
		sess.SendResponse(550, "Directory not found")
		return
	}
	if !fileInfo.IsDir() {
		sess.SendResponse(550, "Not a directory")
		return
	}

	handler(dirPath, fullPath)
}

// ResolvePath turns a client path into a cleaned absolute server path.
func (sess *session) ResolvePath(p string) string {
	if p == "" {
		return sess.currentDir
	}
	if !path.IsAbs(p) {
		p = path.Join(sess.currentDir, p)
	}
	return path.Clean("/" + p)
}

// GetFullSystemPath maps a server path below the served root.
func (sess *session) GetFullSystemPath(p string) string {
	return filepath.Join(sess.server.root, filepath.FromSlash(p))
}
