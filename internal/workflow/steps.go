package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Step is one launcher interaction.
type Step struct {
	Control `yaml:",inline"`
	Retries int `yaml:"retries,omitempty"`
	// Required steps fail the pass when their control is not found.
	Required bool `yaml:"required,omitempty"`
	// AntiCheat marks a detection step: finding its control means the game
	// ships an anti-cheat system and cannot be instrumented.
	AntiCheat bool `yaml:"anti_cheat,omitempty"`
	// Launch marks the control that starts the installed game. RunSteps
	// skips it; the runner clicks it between the process snapshots.
	Launch bool `yaml:"launch,omitempty"`
	// Wait pauses after the step.
	Wait time.Duration `yaml:"wait,omitempty"`
}

type stepsFile struct {
	Steps []Step `yaml:"steps"`
}

// AntiCheatError reports a game protected by an anti-cheat system.
type AntiCheatError struct {
	Step string
}

func (e *AntiCheatError) Error() string {
	return fmt.Sprintf("EasyAntiCheat detected: anti-cheat protected game (step %s)", e.Step)
}

// StepError reports a required control that could not be clicked.
type StepError struct {
	Step     string
	Attempts int
}

func (e *StepError) Error() string {
	return fmt.Sprintf("ui_step_failed: control %s not found after %d attempts", e.Step, e.Attempts)
}

// DefaultSteps is the launcher flow: search the game, open the first
// result, check for anti-cheat and start the install. The last step is the
// launch control, clicked once the before-snapshot is taken.
func DefaultSteps() []Step {
	return []Step{
		{Control: Control{Name: "search", Image: "images/search_box.png"}, Retries: 3, Required: true, Wait: 2 * time.Second},
		{Control: Control{Name: "first_result", Image: "images/first_result.png"}, Retries: 3, Required: true, Wait: 3 * time.Second},
		{Control: Control{Name: "easy_anti_cheat", Image: "images/easyanticheat.png", Confidence: 0.9}, Retries: 1, AntiCheat: true},
		{Control: Control{Name: "play", Image: "images/play_button.png"}, Retries: 3, Required: true, Wait: 2 * time.Second},
		{Control: Control{Name: "confirm", Image: "images/confirm_button.png"}, Retries: 3, Wait: 2 * time.Second},
		{Control: Control{Name: "install", Image: "images/install_button.png"}, Retries: 10, Required: true, Wait: 5 * time.Second},
		{Control: Control{Name: "start_game", Image: "images/playable.png", Confidence: 0.8}, Retries: 10, Launch: true},
	}
}

// AntiCheatSteps returns the names of the anti-cheat detection steps.
func AntiCheatSteps(steps []Step) []string {
	var names []string
	for _, s := range steps {
		if s.AntiCheat {
			names = append(names, s.Name)
		}
	}
	return names
}

// LaunchStep returns the step marked as the launch control.
func LaunchStep(steps []Step) (Step, bool) {
	for _, s := range steps {
		if s.Launch {
			return s, true
		}
	}
	return Step{}, false
}

// LoadSteps reads a YAML step list. An empty path selects DefaultSteps.
func LoadSteps(path string) ([]Step, error) {
	if strings.TrimSpace(path) == "" {
		return DefaultSteps(), nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read steps file: %w", err)
	}
	var file stepsFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("decode steps file %s: %w", path, err)
	}
	if err := ValidateSteps(file.Steps); err != nil {
		return nil, fmt.Errorf("steps file %s: %w", path, err)
	}
	return file.Steps, nil
}

// ValidateSteps checks names, images and retry budgets.
func ValidateSteps(steps []Step) error {
	if len(steps) == 0 {
		return errors.New("no steps defined")
	}
	seen := make(map[string]struct{}, len(steps))
	launches := 0
	for i, s := range steps {
		if strings.TrimSpace(s.Name) == "" {
			return fmt.Errorf("step %d has no name", i)
		}
		if _, dup := seen[s.Name]; dup {
			return fmt.Errorf("duplicate step %q", s.Name)
		}
		seen[s.Name] = struct{}{}
		if strings.TrimSpace(s.Image) == "" {
			return fmt.Errorf("step %q has no image", s.Name)
		}
		if s.Retries < 0 {
			return fmt.Errorf("step %q has negative retries", s.Name)
		}
		if s.AntiCheat && s.Required {
			return fmt.Errorf("step %q cannot be both required and an anti-cheat marker", s.Name)
		}
		if s.Launch {
			if s.AntiCheat {
				return fmt.Errorf("step %q cannot be both the launch control and an anti-cheat marker", s.Name)
			}
			launches++
		}
	}
	if launches > 1 {
		return errors.New("only one step can be the launch control")
	}
	return nil
}

// RunSteps drives steps through actuator in order, leaving out the launch
// step.
func RunSteps(
	ctx context.Context,
	actuator Actuator,
	steps []Step,
	sleep func(context.Context, time.Duration) error,
	logger *slog.Logger,
) error {
	for _, step := range steps {
		if step.Launch {
			continue
		}
		retries := max(step.Retries, 1)
		clicked, err := actuator.LocateAndClick(ctx, step.Control, retries)
		if err != nil {
			return fmt.Errorf("step %s: %w", step.Name, err)
		}
		logger.Debug("ui step finished",
			slog.String("step", step.Name),
			slog.Bool("clicked", clicked))

		switch {
		case step.AntiCheat && clicked:
			return &AntiCheatError{Step: step.Name}
		case step.Required && !clicked:
			return &StepError{Step: step.Name, Attempts: retries}
		}
		if clicked && step.Wait > 0 {
			if err := sleep(ctx, step.Wait); err != nil {
				return err
			}
		}
	}
	return nil
}
