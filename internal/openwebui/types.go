package openwebui

// Knowledge is a knowledge base as reported by the indexing service
type Knowledge struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// ModelSpec describes a companion model bound to one knowledge base
type ModelSpec struct {
	Name        string
	Description string
	Knowledge   Knowledge
}

type createKnowledgeRequest struct {
	Name          string         `json:"name"`
	Description   string         `json:"description"`
	Data          map[string]any `json:"data"`
	AccessControl map[string]any `json:"access_control"`
}

type createModelRequest struct {
	ID          string         `json:"id"`
	Name        string         `json:"name"`
	BaseModelID string         `json:"base_model_id"`
	Meta        modelMeta      `json:"meta"`
	Params      map[string]any `json:"params"`
}

type modelMeta struct {
	Description string      `json:"description"`
	Knowledge   []Knowledge `json:"knowledge"`
}

type attachFileRequest struct {
	FileID string `json:"file_id"`
}

type idResponse struct {
	ID string `json:"id"`
}
