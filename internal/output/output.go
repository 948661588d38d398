// Package output prints command results for people and for scripts.
package output

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

type OutputFormat struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
	Data    any    `json:"data,omitempty"`
}

func Success(message string, args ...any) {
	fmt.Printf("folofix: "+message+"\n", args...)
}

func Error(err error) {
	fmt.Fprintf(os.Stderr, "error: %s\n", err)
}

func Warning(message string, args ...any) {
	fmt.Fprintf(os.Stderr, "warning: "+message+"\n", args...)
}

func JSON(w io.Writer, data any) error {
	return json.NewEncoder(w).Encode(OutputFormat{
		Status: "success",
		Data:   data,
	})
}

func JSONError(err error) error {
	return json.NewEncoder(os.Stderr).Encode(OutputFormat{
		Status:  "error",
		Message: err.Error(),
	})
}

// Table writes rows in aligned columns. Cells may carry terminal styling;
// widths are measured as displayed.
func Table(w io.Writer, data [][]string) {
	if len(data) == 0 {
		return
	}

	widths := make([]int, len(data[0]))
	for _, row := range data {
		for i, cell := range row {
			if i < len(widths) {
				widths[i] = max(widths[i], lipgloss.Width(cell))
			}
		}
	}

	for _, row := range data {
		var line strings.Builder
		for i, cell := range row {
			line.WriteString(cell)
			if i == len(row)-1 {
				break
			}
			if i < len(widths) {
				line.WriteString(strings.Repeat(" ", widths[i]-lipgloss.Width(cell)))
			}
			line.WriteString("  ")
		}
		fmt.Fprintln(w, strings.TrimRight(line.String(), " "))
	}
}
