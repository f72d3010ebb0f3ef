package cmd

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"

	"github.com/spf13/cobra"
)

type confirmContextKey string

const autoApproveContextKey confirmContextKey = "usmapctl-auto-approve"

// SetAutoApprove stores the --yes flag state on the command context.
func SetAutoApprove(cmd *cobra.Command, approved bool) {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	ctx = context.WithValue(ctx, autoApproveContextKey, approved)
	cmd.SetContext(ctx)
}

// AutoApproveEnabled reports whether the user opted to skip confirmation prompts.
func AutoApproveEnabled(helper Helper) bool {
	if helper == nil || helper.GetCmd() == nil {
		return false
	}
	ctx := helper.GetCmd().Context()
	if ctx == nil {
		return false
	}
	approved, _ := ctx.Value(autoApproveContextKey).(bool)
	return approved
}

// Confirm asks the operator to type 'yes' before an action that changes task
// state outside the orchestrator, unless --yes was given.
func Confirm(helper Helper, description string, warnings ...string) error {
	if AutoApproveEnabled(helper) {
		return nil
	}

	streams := helper.GetStreams()
	fmt.Fprintf(streams.Out, "\nYou are about to %s\n", description)

	for _, warning := range warnings {
		if strings.TrimSpace(warning) != "" {
			fmt.Fprintln(streams.Out, warning)
		}
	}

	fmt.Fprint(streams.Out, "\nDo you want to continue? Type 'yes' to confirm: ")

	line, err := ReadLine(helper)
	if err != nil || strings.ToLower(strings.TrimSpace(line)) != "yes" {
		return PrepareExecutionErrorMsg(helper, "operation cancelled")
	}
	return nil
}

// WaitForEnter prints prompt and blocks until the operator presses Enter.
func WaitForEnter(helper Helper, prompt string) error {
	fmt.Fprint(helper.GetStreams().Out, prompt)
	if _, err := ReadLine(helper); err != nil {
		return PrepareExecutionErrorMsg(helper, "operation cancelled")
	}
	return nil
}

// ReadLine reads one line from the command input, giving up when the command
// context is cancelled or the user interrupts.
func ReadLine(helper Helper) (string, error) {
	streams := helper.GetStreams()
	input := streams.In
	// stdin may be a pipe feeding the command; the operator answers on the tty
	if input == os.Stdin && !streams.IsInputTerminal() {
		if tty, err := os.Open("/dev/tty"); err == nil {
			defer tty.Close()
			input = tty
		}
	}

	ctx := helper.GetCmd().Context()
	if ctx == nil {
		ctx = context.Background()
	}
	return readLine(ctx, input)
}

func readLine(ctx context.Context, input io.Reader) (string, error) {
	reader := bufio.NewReader(input)
	lineCh := make(chan string, 1)
	errCh := make(chan error, 1)

	go func() {
		line, err := reader.ReadString('\n')
		if err != nil && (err != io.EOF || line == "") {
			errCh <- err
			return
		}
		lineCh <- line
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt)
	defer signal.Stop(sigCh)

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case <-sigCh:
		return "", context.Canceled
	case err := <-errCh:
		return "", err
	case line := <-lineCh:
		return line, nil
	}
}
