package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/crewplane/crewplane/pkg/models"
	"github.com/crewplane/crewplane/pkg/services"
	"github.com/urfave/cli/v3"
	"gopkg.in/yaml.v3"
)

var (
	ErrNoConfigFiles  = errors.New("no job config files given")
	ErrInvalidConfigs = errors.New("invalid job configs found")
)

func NewValidateCommand() *cli.Command {
	return &cli.Command{
		Name:      "validate",
		Aliases:   []string{"v"},
		Usage:     "Validate job configuration files",
		ArgsUsage: "<job.json|job.yaml>...",
		Action: func(ctx context.Context, command *cli.Command) error {
			return validateFiles(command.Root().Writer, command.Args().Slice())
		},
	}
}

func validateFiles(out io.Writer, paths []string) error {
	if len(paths) == 0 {
		return ErrNoConfigFiles
	}

	validator, err := services.NewConfigValidator()
	if err != nil {
		return err
	}

	_, _ = fmt.Fprintln(out, "Job Config Validation Results:")
	_, _ = fmt.Fprintln(out, "==============================")

	invalid := 0

	for _, path := range paths {
		_, _ = fmt.Fprintf(out, "\n%s\n", path)

		config, err := readConfig(path)
		if err == nil {
			err = validator.Validate(config)
		}

		if err != nil {
			_, _ = fmt.Fprintf(out, "    ❌ INVALID: %v\n", err)
			invalid++

			continue
		}

		_, _ = fmt.Fprintf(out, "    ✅ VALID (%d agents, %d tasks, roles: %v)\n",
			len(config.Agents), len(config.Tasks), config.AgentIdentifiers())
	}

	_, _ = fmt.Fprintf(out, "\nValidation Summary:\n")
	_, _ = fmt.Fprintf(out, "  Total configs: %d\n", len(paths))
	_, _ = fmt.Fprintf(out, "  Invalid configs: %d\n", invalid)

	if invalid > 0 {
		return fmt.Errorf("%w: %d", ErrInvalidConfigs, invalid)
	}

	return nil
}

func readConfig(path string) (models.JobConfig, error) {
	var config models.JobConfig

	data, err := os.ReadFile(path) // #nosec G304 -- path comes from the operator
	if err != nil {
		return config, fmt.Errorf("failed to read %s: %w", path, err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		// decode through a generic document so the json field names apply
		var document map[string]any

		err = yaml.Unmarshal(data, &document)
		if err != nil {
			return config, fmt.Errorf("failed to decode %s: %w", path, err)
		}

		data, err = json.Marshal(document)
		if err != nil {
			return config, fmt.Errorf("failed to convert %s: %w", path, err)
		}
	}

	err = json.Unmarshal(data, &config)
	if err != nil {
		return config, fmt.Errorf("failed to decode %s: %w", path, err)
	}

	return config, nil
}
