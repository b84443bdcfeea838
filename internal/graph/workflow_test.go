package graph

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompileWorkflowBasicPipeline(t *testing.T) {
	wf := &Workflow{
		Nodes: []WorkflowNode{
			{ID: "ckpt", Type: "checkpointLoader", Data: map[string]any{"ckpt_name": "dreamshaper_8.safetensors"}},
			{ID: "pos", Type: "textEncode", Data: map[string]any{"text": "a castle"}},
			{ID: "neg", Type: "textEncode", Data: nil},
			{ID: "lat", Type: "emptyLatent", Data: map[string]any{"width": 768}},
			{ID: "samp", Type: "sampler", Data: map[string]any{"seed": 7}},
			{ID: "dec", Type: "vaeDecode", Data: nil},
			{ID: "out", Type: "saveImage", Data: nil},
		},
		Edges: []WorkflowEdge{
			{Source: "ckpt", SourceHandle: "model", Target: "samp", TargetHandle: "model"},
			{Source: "ckpt", SourceHandle: "clip", Target: "pos", TargetHandle: "clip"},
			{Source: "ckpt", SourceHandle: "clip", Target: "neg", TargetHandle: "t5"},
			{Source: "ckpt", SourceHandle: "vae", Target: "dec", TargetHandle: "vae"},
			{Source: "pos", SourceHandle: "conditioning", Target: "samp", TargetHandle: "positive"},
			{Source: "neg", SourceHandle: "conditioning", Target: "samp", TargetHandle: "negative"},
			{Source: "lat", SourceHandle: "latent", Target: "samp", TargetHandle: "latent_in"},
			{Source: "samp", SourceHandle: "latent", Target: "dec", TargetHandle: "latent"},
			{Source: "dec", SourceHandle: "image", Target: "out", TargetHandle: "images"},
		},
	}

	g, err := CompileWorkflow(wf)
	require.NoError(t, err)
	require.Len(t, g, 7)

	// User data overrides the per-type defaults; missing fields keep them.
	assert.Equal(t, "dreamshaper_8.safetensors", g["ckpt"].Inputs["ckpt_name"])
	assert.Equal(t, 768, g["lat"].Inputs["width"])
	assert.Equal(t, DefaultHeight, g["lat"].Inputs["height"])
	assert.Equal(t, "a castle", g["pos"].Inputs["text"])
	assert.Equal(t, "", g["neg"].Inputs["text"])

	// Output handles resolve through the per-producer slot table.
	assert.Equal(t, Ref{"ckpt", 0}, g["samp"].Inputs["model"])
	assert.Equal(t, Ref{"ckpt", 1}, g["pos"].Inputs["clip"])
	assert.Equal(t, Ref{"ckpt", 2}, g["dec"].Inputs["vae"])

	// Target handle synonyms normalize before lookup.
	assert.Equal(t, Ref{"ckpt", 1}, g["neg"].Inputs["clip"])
	assert.Equal(t, Ref{"lat", 0}, g["samp"].Inputs["latent_image"])

	// "latent" into the decode node becomes "samples".
	assert.Equal(t, Ref{"samp", 0}, g["dec"].Inputs["samples"])
	_, hasLatent := g["dec"].Inputs["latent"]
	assert.False(t, hasLatent)

	// Explicit sampler seed is kept verbatim.
	assert.Equal(t, int64(7), g["samp"].Inputs["seed"])
}

func TestCompileWorkflowSamplerSeedSentinel(t *testing.T) {
	wf := &Workflow{
		Nodes: []WorkflowNode{
			{ID: "samp", Type: "sampler", Data: map[string]any{"seed": -1}},
		},
	}

	g, err := CompileWorkflow(wf)
	require.NoError(t, err)

	seed, ok := g["samp"].Inputs["seed"].(int64)
	require.True(t, ok)
	assert.GreaterOrEqual(t, seed, int64(0))
	assert.Less(t, seed, int64(seedRange))
}

func TestCompileWorkflowUnknownTypePassThrough(t *testing.T) {
	wf := &Workflow{
		Nodes: []WorkflowNode{
			{ID: "x", Type: "UltimateSDUpscale", Data: map[string]any{"tile_width": 512, "mode_type": "Linear"}},
		},
	}

	g, err := CompileWorkflow(wf)
	require.NoError(t, err)

	node := g["x"]
	assert.Equal(t, "UltimateSDUpscale", node.ClassType)
	assert.Equal(t, 512, node.Inputs["tile_width"])
	assert.Equal(t, "Linear", node.Inputs["mode_type"])
}

func TestCompileWorkflowDanglingEdge(t *testing.T) {
	wf := &Workflow{
		Nodes: []WorkflowNode{
			{ID: "dec", Type: "vaeDecode"},
		},
		Edges: []WorkflowEdge{
			{Source: "missing", SourceHandle: "latent", Target: "dec", TargetHandle: "latent"},
		},
	}

	_, err := CompileWorkflow(wf)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown source node")
}

func TestCompileWorkflowEmpty(t *testing.T) {
	_, err := CompileWorkflow(&Workflow{})
	require.Error(t, err)

	_, err = CompileWorkflow(nil)
	require.Error(t, err)
}

func TestCompileWorkflowLoadImageMaskSlot(t *testing.T) {
	wf := &Workflow{
		Nodes: []WorkflowNode{
			{ID: "img", Type: "loadImage", Data: map[string]any{"image": "photo.png"}},
			{ID: "enc", Type: "vaeEncode"},
		},
		Edges: []WorkflowEdge{
			{Source: "img", SourceHandle: "mask", Target: "enc", TargetHandle: "pixels"},
		},
	}

	g, err := CompileWorkflow(wf)
	require.NoError(t, err)
	assert.Equal(t, Ref{"img", 1}, g["enc"].Inputs["pixels"])
}
