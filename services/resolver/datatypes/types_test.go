// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package datatypes

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestSolveRequestValidate(t *testing.T) {
	tests := []struct {
		name    string
		req     SolveRequest
		wantErr bool
	}{
		{"valid", SolveRequest{Query: "what is 4+4"}, false},
		{"single character", SolveRequest{Query: "π"}, false},
		{"empty", SolveRequest{Query: ""}, true},
		{"at max length", SolveRequest{Query: strings.Repeat("x", MaxQueryLength)}, false},
		{"over max length", SolveRequest{Query: strings.Repeat("x", MaxQueryLength+1)}, true},
		{"context is optional", SolveRequest{Query: "q?", Context: map[string]any{"k": "v"}}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.req.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestResolutionResultJSONShape(t *testing.T) {
	result := ResolutionResult{
		Found:        true,
		Solution:     "4 + 4 = 8",
		Source:       SourcePattern,
		Confidence:   0.98,
		References:   []string{},
		ResponseTime: 0.002,
	}

	data, err := json.Marshal(result)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	// The transport contract uses snake_case and always carries references
	// as an array.
	for _, field := range []string{
		`"found":true`,
		`"solution":"4 + 4 = 8"`,
		`"source":"pattern"`,
		`"confidence":0.98`,
		`"references":[]`,
		`"response_time":0.002`,
	} {
		if !strings.Contains(string(data), field) {
			t.Errorf("JSON %s missing %s", data, field)
		}
	}
}
