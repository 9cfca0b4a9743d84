package eventbus

import (
	"fmt"
	"io"
	"sync"

	"github.com/charmbracelet/lipgloss"
)

var (
	consoleTimeStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#999999"))
	consoleTextStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#CCCCCC"))
)

// ConsoleSink returns a handler that writes each event as one line to w.
func ConsoleSink(w io.Writer) Handler {
	var mu sync.Mutex
	return func(e Event) {
		if w == nil {
			return
		}
		mu.Lock()
		defer mu.Unlock()
		fmt.Fprintf(w, "%s %s\n",
			consoleTimeStyle.Render(e.Timestamp.Local().Format("15:04:05")),
			consoleTextStyle.Render(e.Text),
		)
	}
}
