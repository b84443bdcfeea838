package graph

import (
	"fmt"
	"strings"
)

// Workflow is a free-form user-authored node graph.
type Workflow struct {
	Nodes []WorkflowNode `json:"nodes"`
	Edges []WorkflowEdge `json:"edges"`
}

// WorkflowNode is one user node. Data carries per-node literal inputs.
type WorkflowNode struct {
	ID   string         `json:"id"`
	Type string         `json:"type"`
	Data map[string]any `json:"data"`
}

// WorkflowEdge connects a producer's output handle to a consumer's input handle.
type WorkflowEdge struct {
	Source       string `json:"source"`
	SourceHandle string `json:"sourceHandle"`
	Target       string `json:"target"`
	TargetHandle string `json:"targetHandle"`
}

// nodeMapping records how a user node type compiles: target class and the
// literal defaults merged underneath the user's data.
type nodeMapping struct {
	classType string
	defaults  map[string]any
}

var workflowNodeTypes = map[string]nodeMapping{
	"checkpointLoader": {classCheckpointLoader, map[string]any{
		"ckpt_name": DefaultImageModel,
	}},
	"unetLoader": {classUNETLoader, map[string]any{
		"unet_name":    DefaultTxt2VidModel,
		"weight_dtype": "default",
	}},
	"clipLoader": {classCLIPLoader, map[string]any{
		"clip_name": videoCLIPModel,
		"type":      "wan",
	}},
	"vaeLoader": {classVAELoader, map[string]any{
		"vae_name": videoVAEModel,
	}},
	"textEncode": {classCLIPTextEncode, map[string]any{
		"text": "",
	}},
	"emptyLatent": {classEmptyLatent, map[string]any{
		"width":      DefaultWidth,
		"height":     DefaultHeight,
		"batch_size": 1,
	}},
	"loadImage": {classLoadImage, map[string]any{
		"image": "",
	}},
	"imageScale": {classImageScale, map[string]any{
		"width":          DefaultWidth,
		"height":         DefaultHeight,
		"upscale_method": "nearest-exact",
		"crop":           "disabled",
	}},
	"vaeEncode": {classVAEEncode, map[string]any{}},
	"sampler": {classKSampler, map[string]any{
		"seed":         int64(SeedSentinel),
		"steps":        DefaultSteps,
		"cfg":          DefaultCFG,
		"sampler_name": DefaultSampler,
		"scheduler":    DefaultScheduler,
		"denoise":      1.0,
	}},
	"vaeDecode": {classVAEDecode, map[string]any{}},
	"saveImage": {classSaveImage, map[string]any{
		"filename_prefix": outputPrefix,
	}},
}

// outputSlots maps a producer class to its output-handle → slot table.
// Handles not listed resolve to slot 0.
var outputSlots = map[string]map[string]int{
	classCheckpointLoader: {"model": 0, "clip": 1, "vae": 2},
	classLoadImage:        {"image": 0, "mask": 1},
	classPadForOutpaint:   {"image": 0, "mask": 1},
	classWanImageToVideo:  {"positive": 0, "negative": 1, "latent": 2},
}

// targetHandleSynonyms normalizes input handle names users are allowed to
// spell differently.
var targetHandleSynonyms = map[string]string{
	"latent_in": "latent_image",
	"t5":        "clip",
	"text_in":   "text",
	"image_in":  "image",
	"model_in":  "model",
	"vae_in":    "vae",
}

// CompileWorkflow translates a user graph into an execution graph. Unknown
// node types pass through verbatim: raw type string as class type, data map
// as literal inputs. That output is best-effort, not guaranteed valid.
func CompileWorkflow(wf *Workflow) (Graph, error) {
	if wf == nil || len(wf.Nodes) == 0 {
		return nil, fmt.Errorf("workflow has no nodes")
	}

	g := Graph{}
	for _, n := range wf.Nodes {
		if n.ID == "" {
			return nil, fmt.Errorf("workflow node without id")
		}

		mapping, known := workflowNodeTypes[n.Type]
		if !known {
			g[n.ID] = Node{ClassType: n.Type, Inputs: copyData(n.Data)}
			continue
		}

		inputs := make(map[string]any, len(mapping.defaults)+len(n.Data))
		for k, v := range mapping.defaults {
			inputs[k] = v
		}
		for k, v := range n.Data {
			inputs[k] = v
		}
		if mapping.classType == classKSampler {
			inputs["seed"] = ResolveSeed(workflowSeed(inputs["seed"]))
		}

		g[n.ID] = Node{ClassType: mapping.classType, Inputs: inputs}
	}

	for _, e := range wf.Edges {
		producer, ok := g[e.Source]
		if !ok {
			return nil, fmt.Errorf("edge references unknown source node %q", e.Source)
		}
		consumer, ok := g[e.Target]
		if !ok {
			return nil, fmt.Errorf("edge references unknown target node %q", e.Target)
		}

		slot := 0
		if table, ok := outputSlots[producer.ClassType]; ok {
			if s, ok := table[e.SourceHandle]; ok {
				slot = s
			}
		}

		handle := normalizeTargetHandle(e.TargetHandle, consumer.ClassType)
		consumer.Inputs[handle] = Ref{Node: e.Source, Slot: slot}
	}

	return g, nil
}

// normalizeTargetHandle resolves synonyms, plus the decode special case:
// samplers feed the decoder through "samples", whatever the edge says.
func normalizeTargetHandle(handle, targetClass string) string {
	handle = strings.TrimSpace(handle)
	if targetClass == classVAEDecode && handle == "latent" {
		return "samples"
	}
	if canonical, ok := targetHandleSynonyms[handle]; ok {
		return canonical
	}
	return handle
}

func workflowSeed(v any) *int64 {
	var seed int64
	switch s := v.(type) {
	case int64:
		seed = s
	case int:
		seed = int64(s)
	case float64:
		seed = int64(s)
	default:
		return nil
	}
	return &seed
}

func copyData(data map[string]any) map[string]any {
	out := make(map[string]any, len(data))
	for k, v := range data {
		out[k] = v
	}
	return out
}
