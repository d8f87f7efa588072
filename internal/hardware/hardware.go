// Package hardware defines the sensor and actuator ports the workflow engine
// consumes, plus shell-command-backed implementations for real deployments.
package hardware

import (
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

// Sensor reads current soil moisture as a percentage.
type Sensor interface {
	ReadMoisture(ctx context.Context, sensorID string) (float64, error)
}

// Actuator runs a pump or valve for a fixed duration.
type Actuator interface {
	Activate(ctx context.Context, actuatorID string, duration time.Duration) error
}

// Clock supplies the current time; injected so deadline logic is testable.
type Clock func() time.Time

// CommandSensor shells out to a configured command that prints a moisture
// percentage on stdout. The template may reference {{.SensorID}}.
type CommandSensor struct {
	Command string
}

// ReadMoisture runs the sensor command and parses its output.
func (s *CommandSensor) ReadMoisture(ctx context.Context, sensorID string) (float64, error) {
	if s.Command == "" {
		return 0, fmt.Errorf("hardware: moisture command not configured")
	}
	cmdStr := strings.NewReplacer("{{.SensorID}}", sensorID).Replace(s.Command)
	out, err := exec.CommandContext(ctx, "sh", "-c", cmdStr).Output()
	if err != nil {
		return 0, fmt.Errorf("hardware: read moisture %s: %w", sensorID, err)
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(string(out)), 64)
	if err != nil {
		return 0, fmt.Errorf("hardware: parse moisture from %s: %w", sensorID, err)
	}
	return v, nil
}

// CommandActuator shells out to a configured command. The template may
// reference {{.ActuatorID}} and {{.Seconds}}.
type CommandActuator struct {
	Command string
}

// Activate runs the actuator command for the planned duration.
func (a *CommandActuator) Activate(ctx context.Context, actuatorID string, duration time.Duration) error {
	if a.Command == "" {
		return fmt.Errorf("hardware: actuator command not configured")
	}
	cmdStr := strings.NewReplacer(
		"{{.ActuatorID}}", actuatorID,
		"{{.Seconds}}", strconv.Itoa(int(duration.Seconds())),
	).Replace(a.Command)
	if out, err := exec.CommandContext(ctx, "sh", "-c", cmdStr).CombinedOutput(); err != nil {
		return fmt.Errorf("hardware: activate %s: %w: %s", actuatorID, err, strings.TrimSpace(string(out)))
	}
	return nil
}
