package report

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"changemap/internal/pipeline"

	"github.com/stretchr/testify/require"
)

func TestSummaryListsCountsAndStages(t *testing.T) {
	grid, err := pipeline.NewGrid(200, 200, 50)
	require.NoError(t, err)

	res := &pipeline.Result{
		Grid: grid,
		Summary: pipeline.Summary{
			Tiles: 16, ChangedTiles: 1, Pixels: 40000, ChangedPixels: 402, RetainedPixels: 400,
		},
		Timings: map[string]time.Duration{
			pipeline.StageStitch:  time.Millisecond,
			pipeline.StageTile:    2 * time.Millisecond,
			pipeline.StageExtract: time.Second,
		},
		Stages: []string{pipeline.StageTile, pipeline.StageExtract, pipeline.StageStitch},
	}

	out := Summary(res, []string{"out/heatmap.png"})
	require.Contains(t, out, "1 / 16")
	require.Contains(t, out, "402")
	require.Contains(t, out, "1.00%")
	require.Contains(t, out, "out/heatmap.png")

	tile := strings.Index(out, pipeline.StageTile)
	extract := strings.Index(out, pipeline.StageExtract)
	stitch := strings.Index(out, pipeline.StageStitch)
	require.True(t, tile < extract && extract < stitch)
}

func TestSummaryFlagsEmptyResult(t *testing.T) {
	out := Summary(&pipeline.Result{Empty: true}, nil)
	require.Contains(t, out, "smaller than one tile")
}

func TestSpinnerStopWritesFinalLine(t *testing.T) {
	var buf bytes.Buffer
	sp := StartSpinner(&buf, "comparing")
	time.Sleep(150 * time.Millisecond)
	sp.Stop("done")
	require.True(t, strings.HasSuffix(buf.String(), "done\n"))
}
