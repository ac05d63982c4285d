package cmd

import (
	"errors"

	"github.com/manifoldco/promptui"
	"github.com/spf13/cobra"
)

const (
	PromptYes = "Yes"
	PromptNo  = "No"
)

var errDeclined = errors.New("declined at prompt")

// confirm asks label unless --yes was given on cmd.
func confirm(cmd *cobra.Command, label string) error {
	if yes, _ := cmd.Flags().GetBool("yes"); yes {
		return nil
	}

	prompt := promptui.Select{
		Label: label,
		Items: []string{PromptNo, PromptYes},
	}

	_, answer, err := prompt.Run()
	if err != nil {
		return err
	}
	if answer != PromptYes {
		return errDeclined
	}
	return nil
}
