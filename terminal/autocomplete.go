package terminal

import (
	"os"
	"strings"
	"sync"
	"time"

	"github.com/c-bata/go-prompt"
)

// CommandCompleter suggests shell commands and their arguments. Remote names
// come from the last directory listing; local names from the working
// directory.
type CommandCompleter struct {
	commands []prompt.Suggest

	mu          sync.Mutex
	remoteFiles []string
	remoteDirs  []string

	localDir          string
	localFileCache    []string
	localFileCacheAge time.Time
	cacheTimeout      time.Duration
}

// NewCommandCompleter creates a new command completer
func NewCommandCompleter() *CommandCompleter {
	return &CommandCompleter{
		commands: []prompt.Suggest{
			{Text: "get", Description: "Download a file in the background"},
			{Text: "reget", Description: "Resume a download from the local file size"},
			{Text: "put", Description: "Upload a file in the background"},
			{Text: "ls", Description: "List a remote directory"},
			{Text: "dir", Description: "List a remote directory"},
			{Text: "list", Description: "List a remote directory"},
			{Text: "pwd", Description: "Show the remote directory"},
			{Text: "cd", Description: "Change the remote directory"},
			{Text: "mkdir", Description: "Create a remote directory"},
			{Text: "delete", Description: "Delete a remote file"},
			{Text: "jobs", Description: "Show background transfers"},
			{Text: "mode", Description: "Show or set the data mode (pasv/port)"},
			{Text: "theme", Description: "Change terminal theme"},
			{Text: "clear", Description: "Clear terminal screen"},
			{Text: "help", Description: "Show help information"},
			{Text: "quit", Description: "Wait for transfers and disconnect"},
		},
		cacheTimeout: 10 * time.Second,
	}
}

// UpdateRemoteFiles replaces the remembered remote names.
func (c *CommandCompleter) UpdateRemoteFiles(files, dirs []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.remoteFiles = files
	c.remoteDirs = dirs
}

// UpdateFromListing remembers the names in a LIST reply. Lines are expected
// in the usual "ls -l" layout with the name in the last column.
func (c *CommandCompleter) UpdateFromListing(listing string) {
	var files, dirs []string
	for _, line := range strings.Split(listing, "\n") {
		fields := strings.Fields(line)
		if len(fields) < 9 {
			continue
		}
		name := strings.Join(fields[8:], " ")
		if name == "." || name == ".." {
			continue
		}
		if strings.HasPrefix(fields[0], "d") {
			dirs = append(dirs, name)
		} else {
			files = append(files, name)
		}
	}
	c.UpdateRemoteFiles(files, dirs)
}

// ClearRemote forgets remote names, e.g. after a directory change.
func (c *CommandCompleter) ClearRemote() {
	c.UpdateRemoteFiles(nil, nil)
}

// Completer returns suggestions for the current input
func (c *CommandCompleter) Completer(d prompt.Document) []prompt.Suggest {
	text := d.TextBeforeCursor()
	words := strings.Fields(text)

	if len(words) == 0 || (len(words) == 1 && !strings.HasSuffix(text, " ")) {
		return c.suggestCommands(words)
	}
	return c.suggestArguments(words, strings.HasSuffix(text, " "))
}

func (c *CommandCompleter) suggestCommands(words []string) []prompt.Suggest {
	if len(words) == 0 {
		return c.commands
	}
	return prompt.FilterHasPrefix(c.commands, words[0], true)
}

func (c *CommandCompleter) suggestArguments(words []string, fresh bool) []prompt.Suggest {
	prefix := ""
	argIndex := len(words)
	if !fresh {
		prefix = words[len(words)-1]
		argIndex = len(words) - 1
	}
	if prefix == "" {
		return nil
	}

	switch strings.ToLower(words[0]) {
	case "cd", "ls", "dir", "list":
		return c.suggestRemote(prefix, true)
	case "get", "reget":
		if argIndex == 1 {
			return c.suggestRemote(prefix, false)
		}
	case "delete":
		return c.suggestRemote(prefix, false)
	case "put":
		if argIndex == 1 {
			return c.suggestLocalFiles(prefix)
		}
	case "mode":
		return filterNames([]string{"pasv", "port"}, prefix, "Data mode")
	case "theme":
		return filterNames(ThemeNames(), prefix, "Theme")
	}
	return nil
}

func (c *CommandCompleter) suggestRemote(prefix string, dirsOnly bool) []prompt.Suggest {
	c.mu.Lock()
	defer c.mu.Unlock()

	suggestions := filterNames(c.remoteDirs, prefix, "Remote directory")
	if !dirsOnly {
		suggestions = append(suggestions, filterNames(c.remoteFiles, prefix, "Remote file")...)
	}
	return suggestions
}

func (c *CommandCompleter) suggestLocalFiles(prefix string) []prompt.Suggest {
	cwd, err := os.Getwd()
	if err != nil {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if cwd != c.localDir || time.Since(c.localFileCacheAge) > c.cacheTimeout {
		entries, err := os.ReadDir(cwd)
		if err != nil {
			return nil
		}
		c.localFileCache = c.localFileCache[:0]
		for _, entry := range entries {
			if !entry.IsDir() {
				c.localFileCache = append(c.localFileCache, entry.Name())
			}
		}
		c.localDir = cwd
		c.localFileCacheAge = time.Now()
	}
	return filterNames(c.localFileCache, prefix, "Local file")
}

// filterNames matches case-insensitively and hides dot files unless the
// prefix starts with a dot.
func filterNames(names []string, prefix, description string) []prompt.Suggest {
	var suggestions []prompt.Suggest
	for _, name := range names {
		if strings.HasPrefix(name, ".") && !strings.HasPrefix(prefix, ".") {
			continue
		}
		if strings.HasPrefix(strings.ToLower(name), strings.ToLower(prefix)) {
			suggestions = append(suggestions, prompt.Suggest{Text: name, Description: description})
		}
	}
	return suggestions
}
