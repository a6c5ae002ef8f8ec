package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testRequest = `{
	"sourceFilesCsvBucket": "elsa-manifests",
	"sourceFilesCsvKey": "release-1/manifest.csv",
	"destinationBucket": "researcher-bucket",
	"destinationPrefix": "release-1",
	"maxItemsPerBatch": 10,
	"transfers": 8
}`

func execute(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestValidateCmd(t *testing.T) {
	for scenario, fn := range map[string]func(t *testing.T){
		"text output from file":    testValidateText,
		"json output from stdin":   testValidateJSON,
		"invalid request fails":    testValidateInvalid,
		"unknown format fails":     testValidateUnknownFormat,
		"missing file is reported": testValidateMissingFile,
	} {
		t.Run(scenario, fn)
	}
}

func testValidateText(t *testing.T) {
	path := filepath.Join(t.TempDir(), "request.json")
	require.NoError(t, os.WriteFile(path, []byte(testRequest), 0o600))

	out, err := execute(t, "", "validate", path)
	require.NoError(t, err)

	assert.Contains(t, out, "manifest:            elsa-manifests/release-1/manifest.csv")
	assert.Contains(t, out, "destination:         s3:researcher-bucket/release-1")
	assert.Contains(t, out, "max items per batch: 10")
	assert.Contains(t, out, "tolerated failures:  0%")
	assert.Contains(t, out, "max concurrency:     100")
	assert.Contains(t, out, "job parameters:      transfers=8")
}

func testValidateJSON(t *testing.T) {
	out, err := execute(t, testRequest, "validate", "-", "--format", "json")
	require.NoError(t, err)

	assert.Contains(t, out, `"maxConcurrency":100`)
	assert.Contains(t, out, `"toleratedFailurePercentage":0`)
	assert.Contains(t, out, `"maxItemsPerBatch":10`)
}

func testValidateInvalid(t *testing.T) {
	_, err := execute(t, `{"sourceFilesCsvBucket": "b"}`, "validate", "-")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sourceFilesCsvKey")
}

func testValidateUnknownFormat(t *testing.T) {
	_, err := execute(t, testRequest, "validate", "-", "-f", "yaml")
	assert.EqualError(t, err, "unknown format: yaml")
}

func testValidateMissingFile(t *testing.T) {
	_, err := execute(t, "", "validate", filepath.Join(t.TempDir(), "absent.json"))
	assert.ErrorContains(t, err, "error reading request")
}

func TestStatusCmdRequiresTable(t *testing.T) {
	t.Setenv("RUNS_TABLE", "")

	_, err := execute(t, "", "status", "run-1")
	assert.EqualError(t, err, "RUNS_TABLE is required")
}
