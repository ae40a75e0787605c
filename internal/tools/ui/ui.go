package ui

import (
	"context"
	"fmt"
	"time"

	"github.com/charmbracelet/lipgloss"
)

var (
	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("63"))
	passStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("42"))
	failStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("196"))
	detailStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("245")).PaddingLeft(2)
)

// Run executes fn under a timeout and renders its detail lines with a
// pass or fail verdict. Returned values mirror fn so callers can also
// emit machine-readable output.
func Run(title string, fn func(context.Context) ([]string, error)) ([]string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()

	fmt.Println(titleStyle.Render(title))
	details, err := fn(ctx)
	for _, line := range details {
		fmt.Println(detailStyle.Render(line))
	}
	if err != nil {
		fmt.Println(failStyle.Render("FAIL ") + err.Error())
		return details, err
	}
	fmt.Println(passStyle.Render("OK"))
	return details, nil
}
