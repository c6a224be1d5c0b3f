package chat

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"
)

const (
	quitCommand = "/q"
	nickCommand = "/nick"

	// JoinNotice is broadcast when a session starts.
	JoinNotice = "Another user joined the room"
)

// reserved names a session may not take with /nick.
var reservedNicknames = map[string]struct{}{
	"*":     {},
	"ERROR": {},
}

// splitCommand cuts line at its first whitespace rune. The separator is
// dropped; rest is returned untrimmed.
func splitCommand(line string) (command, rest string) {
	i := strings.IndexFunc(line, unicode.IsSpace)
	if i < 0 {
		return line, ""
	}

	_, size := utf8.DecodeRuneInString(line[i:])
	return line[:i], line[i+size:]
}

// IsQuit reports whether line ends a session: its first token is /q,
// whatever follows.
func IsQuit(line string) bool {
	command, _ := splitCommand(line)
	return command == quitCommand
}

func validNickname(name string) bool {
	if name == "" {
		return false
	}

	_, reserved := reservedNicknames[name]
	return !reserved
}

func leaveNotice(nickname string) string {
	return nickname + " left the room"
}

func nicknameNotice(previous, next string) string {
	return fmt.Sprintf("* %s new nickname is %s", previous, next)
}

func chatLine(nickname, line string) string {
	return nickname + ": " + line
}
