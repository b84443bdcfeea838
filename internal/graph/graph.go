// Package graph compiles generation requests into execution graphs for the
// ComfyUI engine. A compiled graph is a typed value: nodes are created
// through builder helpers that expose each operation's fixed output slots,
// so slot wiring is checked at the call site instead of being spread across
// string tables.
package graph

import "encoding/json"

// Ref points at one output slot of a producer node.
type Ref struct {
	Node string
	Slot int
}

// MarshalJSON renders a Ref in the engine's wire format: ["<node id>", slot].
func (r Ref) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]any{r.Node, r.Slot})
}

// Node is a single operation in an execution graph. Inputs hold either
// literal values or Refs to upstream outputs.
type Node struct {
	ClassType string         `json:"class_type"`
	Inputs    map[string]any `json:"inputs"`
}

// Graph maps node ids to operations. Graphs are acyclic by construction:
// builder helpers only reference nodes that already exist.
type Graph map[string]Node

// Job types supported by the structured compilers.
const (
	TypeTxt2Img  = "txt2img"
	TypeImg2Img  = "img2img"
	TypeInpaint  = "inpaint"
	TypeOutpaint = "outpaint"
	TypeUpscale  = "upscale"
	TypeWorkflow = "workflow"
	TypeTxt2Vid  = "txt2vid"
	TypeImg2Vid  = "img2vid"
)

// Engine node class names.
const (
	classCheckpointLoader  = "CheckpointLoaderSimple"
	classUNETLoader        = "UNETLoader"
	classCLIPLoader        = "CLIPLoader"
	classVAELoader         = "VAELoader"
	classCLIPTextEncode    = "CLIPTextEncode"
	classEmptyLatent       = "EmptyLatentImage"
	classEmptyLatentVideo  = "EmptyHunyuanLatentVideo"
	classLoadImage         = "LoadImage"
	classImageScale        = "ImageScale"
	classVAEEncode         = "VAEEncode"
	classVAEEncodeInpaint  = "VAEEncodeForInpaint"
	classPadForOutpaint    = "ImagePadForOutpaint"
	classKSampler          = "KSampler"
	classVAEDecode         = "VAEDecode"
	classSaveImage         = "SaveImage"
	classSaveAnimatedWEBP  = "SaveAnimatedWEBP"
	classWanImageToVideo   = "WanImageToVideo"
)
