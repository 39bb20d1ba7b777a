package cli

import (
	"io"
	"strings"

	"github.com/charmbracelet/fang"
	"github.com/charmbracelet/lipgloss"
)

// usageErrorPrefixes match cobra's flag and argument errors, whose types are
// not exported.
var usageErrorPrefixes = []string{
	"accepts ",
	"flag needs an argument:",
	"invalid argument",
	"requires at least",
	"unknown command",
	"unknown flag:",
	"unknown shorthand flag:",
}

// ErrorHandler renders command errors for [fang.WithErrorHandler]. The
// message is indented as a block so annotated YAML excerpts stay aligned.
func ErrorHandler(w io.Writer, styles fang.Styles, err error) {
	msg := strings.TrimRight(err.Error(), "\n")

	lines := []string{
		styles.ErrorHeader.String(),
		lipgloss.NewStyle().MarginLeft(2).Render(msg),
		"",
	}

	for _, prefix := range usageErrorPrefixes {
		if !strings.HasPrefix(msg, prefix) {
			continue
		}

		text := styles.ErrorText.UnsetWidth()
		lines = append(lines, lipgloss.JoinHorizontal(lipgloss.Left,
			text.Render("Try"),
			styles.Program.Flag.Render("--help"),
			text.UnsetMargins().UnsetTransform().PaddingLeft(1).Render("for usage."),
		), "")

		break
	}

	mustN(io.WriteString(w, strings.Join(lines, "\n")+"\n"))
}

func must(err error) {
	if err != nil {
		panic(err)
	}
}

func mustN(_ int, err error) {
	must(err)
}
