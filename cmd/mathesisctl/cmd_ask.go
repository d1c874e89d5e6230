// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/mathesis-ai/mathesis/services/resolver/datatypes"
)

// =============================================================================
// COMMAND FLAGS
// =============================================================================

var (
	askContext    string // Optional context sent with the question
	askJSONOutput bool   // Output the raw response as JSON
	askTimeout    time.Duration
)

// =============================================================================
// COMMAND DEFINITION
// =============================================================================

var askCmd = &cobra.Command{
	Use:   "ask [question]",
	Short: "Asks a math question to the resolver",
	Long: `Sends a question to the resolver server, which works through its
phases (feedback, cache, pattern, similarity, web search, generation) and
returns the first answer whose confidence clears the phase threshold.`,
	Args: cobra.MinimumNArgs(1),
	Run:  runAskCommand,
}

func init() {
	askCmd.Flags().StringVar(&askContext, "context", "", "Optional context for the question")
	askCmd.Flags().BoolVar(&askJSONOutput, "json", false, "Print the raw JSON response")
	askCmd.Flags().DurationVar(&askTimeout, "timeout", 30*time.Second, "Request timeout")
	rootCmd.AddCommand(askCmd)
}

func runAskCommand(cmd *cobra.Command, args []string) {
	question := strings.Join(args, " ")

	req := datatypes.SolveRequest{Query: question}
	if askContext != "" {
		req.Context = map[string]any{"note": askContext}
	}
	payload, err := json.Marshal(req)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error building request: %v\n", err)
		os.Exit(1)
	}

	client := &http.Client{Timeout: askTimeout}
	resp, err := client.Post(serverURL+"/v1/resolver/solve", "application/json",
		bytes.NewReader(payload))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error contacting resolver: %v\n", err)
		os.Exit(1)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error reading response: %v\n", err)
		os.Exit(1)
	}
	if resp.StatusCode != http.StatusOK {
		fmt.Fprintf(os.Stderr, "Resolver returned %s: %s\n", resp.Status, string(body))
		os.Exit(1)
	}

	if askJSONOutput {
		fmt.Println(string(body))
		return
	}

	var result datatypes.ResolutionResult
	if err := json.Unmarshal(body, &result); err != nil {
		fmt.Fprintf(os.Stderr, "Error parsing response: %v\n", err)
		os.Exit(1)
	}

	fmt.Println(result.Solution)
	fmt.Println()
	fmt.Printf("source: %s  confidence: %.2f  time: %.2fs\n",
		result.Source, result.Confidence, result.ResponseTime)
	if len(result.References) > 0 {
		fmt.Println("references:")
		for _, ref := range result.References {
			fmt.Printf("  - %s\n", ref)
		}
	}
}
