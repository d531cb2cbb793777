package pkg

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/shono-io/shipwright/sdk"
)

func sampleRun() *sdk.PipelineRun {
	run := sdk.NewPipelineRun("run-1", false)
	run.Version = "0.58.6"
	run.Stage(sdk.BinariesStage).Status = sdk.WarningStatus
	run.Stage(sdk.BinariesStage).Note("x86_64-unknown-linux-musl: build tooling unavailable")
	run.Stage(sdk.ReleaseStage).Status = sdk.OkStatus

	tr := run.Target("x86_64-apple-darwin")
	tr.Build = sdk.BuiltStatus
	tr.Packaged, tr.Checksummed, tr.Uploaded = true, true, true
	miss := run.Target("x86_64-unknown-linux-musl")
	miss.Build = sdk.UnavailableStatus
	miss.Error = "build tooling unavailable"

	run.Finalize()
	return run
}

func TestWriteReport_Json(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteReport(&buf, sampleRun(), JsonReport))

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, "success_with_warnings", decoded["status"])
	assert.Contains(t, decoded["targets"], "x86_64-apple-darwin")
}

func TestWriteReport_Yaml(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteReport(&buf, sampleRun(), YamlReport))

	var decoded map[string]any
	require.NoError(t, yaml.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, "0.58.6", decoded["version"])
	assert.Equal(t, "success_with_warnings", decoded["status"])
}

func TestWriteReport_Text(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteReport(&buf, sampleRun(), TextReport))

	out := buf.String()
	assert.Contains(t, out, "release 0.58.6")
	assert.Contains(t, out, "success_with_warnings")
	assert.Contains(t, out, "x86_64-unknown-linux-musl")
	assert.Contains(t, out, "build tooling unavailable")
	assert.NotContains(t, out, "failed stage")
}

func TestWriteReport_UnknownFormat(t *testing.T) {
	assert.Error(t, WriteReport(&bytes.Buffer{}, sampleRun(), ReportFormat("xml")))
}
