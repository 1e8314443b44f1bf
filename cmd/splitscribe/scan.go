package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/mmynk/splitscribe/internal/allocation"
	"github.com/mmynk/splitscribe/internal/images"
	"github.com/mmynk/splitscribe/internal/pipeline"
)

var (
	scanUser        string
	scanInstruction string
)

var scanCmd = &cobra.Command{
	Use:   "scan [image]",
	Short: "Split one bill image and print the result",
	Long: `Runs the full pipeline against a local image file: the expense and its
splits are stored exactly as they would be for an upload.`,
	Example: `  splitscribe scan dinner.jpg --user u1 -i "split evenly with Bob"`,
	Args:    cobra.ExactArgs(1),
	RunE:    runScan,
}

func init() {
	scanCmd.Flags().StringVarP(&scanUser, "user", "u", "", "ID of the member who paid and uploaded the bill")
	scanCmd.Flags().StringVarP(&scanInstruction, "instruction", "i", "", "How to split the bill")
	_ = scanCmd.MarkFlagRequired("user")
	rootCmd.AddCommand(scanCmd)
}

func runScan(cmd *cobra.Command, args []string) error {
	f, err := os.Open(args[0])
	if err != nil {
		return fmt.Errorf("failed to open image: %w", err)
	}
	defer f.Close()

	data, err := images.ReadLimited(f, cfg.Server.MaxUploadBytes)
	if err != nil {
		return err
	}
	mimeType, err := images.DetectType(data)
	if err != nil {
		return err
	}

	a, err := newApp(cmd.Context(), cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	out, err := a.pipeline.Process(cmd.Context(), pipeline.Input{
		UserID:      scanUser,
		Instruction: scanInstruction,
		Image:       data,
		MIMEType:    mimeType,
	})
	var rejection *allocation.RejectionError
	if errors.As(err, &rejection) {
		return errors.New(rejection.Message)
	}
	if err != nil {
		return err
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(map[string]any{
		"expense_id": out.ExpenseID(),
		"replayed":   out.Replayed,
		"data":       out.Result,
	})
}
