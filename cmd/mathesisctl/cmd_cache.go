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
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/mathesis-ai/mathesis/services/resolver/datatypes"
)

var cacheJSONOutput bool

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect the resolver's answer cache",
}

var cacheStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show hit counters for the cache tiers",
	Run:   runCacheStatsCommand,
}

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check resolver liveness and backend readiness",
	Run:   runHealthCommand,
}

func init() {
	cacheStatsCmd.Flags().BoolVar(&cacheJSONOutput, "json", false, "Print the raw JSON response")
	cacheCmd.AddCommand(cacheStatsCmd)
	rootCmd.AddCommand(cacheCmd)
	rootCmd.AddCommand(healthCmd)
}

func runCacheStatsCommand(cmd *cobra.Command, args []string) {
	body := mustGet(serverURL + "/v1/resolver/cache/stats")

	if cacheJSONOutput {
		fmt.Println(string(body))
		return
	}

	var stats datatypes.CacheStats
	if err := json.Unmarshal(body, &stats); err != nil {
		fmt.Fprintf(os.Stderr, "Error parsing response: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("hot entries:   %d\n", stats.HotSize)
	fmt.Printf("hot hits:      %d\n", stats.HotHits)
	fmt.Printf("warm hits:     %d\n", stats.WarmHits)
	fmt.Printf("pattern hits:  %d\n", stats.PatternHits)
	fmt.Printf("misses:        %d\n", stats.Misses)
	fmt.Printf("hit rate:      %.2f\n", stats.HitRate)
}

func runHealthCommand(cmd *cobra.Command, args []string) {
	fmt.Println(string(mustGet(serverURL + "/v1/resolver/health")))
	fmt.Println(string(mustGet(serverURL + "/v1/resolver/ready")))
}

// mustGet fetches a URL and exits the process on any failure.
func mustGet(url string) []byte {
	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Get(url)
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
	return body
}
