package common

import (
	"encoding/json"
	"fmt"
	"os"
)

type ciResult struct {
	Check   string   `json:"check"`
	Passed  bool     `json:"passed"`
	Details []string `json:"details,omitempty"`
	Error   string   `json:"error,omitempty"`
}

// PrintCIResult writes one machine-readable JSON line per check so CI
// pipelines can grep for failed checks without parsing styled output.
func PrintCIResult(passed bool, check string, details []string, err error) {
	res := ciResult{Check: check, Passed: passed, Details: details}
	if err != nil {
		res.Error = err.Error()
	}
	line, marshalErr := json.Marshal(res)
	if marshalErr != nil {
		fmt.Fprintf(os.Stderr, "ci result marshal failed: %v\n", marshalErr)
		return
	}
	fmt.Println(string(line))
}
