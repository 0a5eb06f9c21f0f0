// Package clipboard wraps the OS clipboard behind the insertion pipeline's
// fallback interface.
package clipboard

import (
	"context"
	"fmt"

	"github.com/atotto/clipboard"
)

// System reads and writes the operating system clipboard.
type System struct{}

func NewSystem() *System {
	return &System{}
}

func (s *System) WriteText(ctx context.Context, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := clipboard.WriteAll(text); err != nil {
		return fmt.Errorf("write clipboard: %w", err)
	}
	return nil
}

func (s *System) ReadText(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	text, err := clipboard.ReadAll()
	if err != nil {
		return "", fmt.Errorf("read clipboard: %w", err)
	}
	return text, nil
}
