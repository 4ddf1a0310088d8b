//-------------------------------------------------------------------------
//
// pgEdge RAG Tracker
//
// Portions copyright (c) 2025 - 2026, pgEdge, Inc.
// This software is released under The PostgreSQL License
//
//-------------------------------------------------------------------------

package server

import (
	"net/http"
)

// OpenAPISpec represents the OpenAPI v3 specification.
type OpenAPISpec struct {
	OpenAPI    string                 `json:"openapi"`
	Info       OpenAPIInfo            `json:"info"`
	Servers    []OpenAPIServer        `json:"servers"`
	Paths      map[string]OpenAPIPath `json:"paths"`
	Components OpenAPIComponents      `json:"components"`
}

// OpenAPIInfo contains API metadata.
type OpenAPIInfo struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Version     string `json:"version"`
}

// OpenAPIServer describes a server.
type OpenAPIServer struct {
	URL         string `json:"url"`
	Description string `json:"description"`
}

// OpenAPIPath contains operations for a path.
type OpenAPIPath struct {
	Get    *OpenAPIOperation `json:"get,omitempty"`
	Post   *OpenAPIOperation `json:"post,omitempty"`
	Put    *OpenAPIOperation `json:"put,omitempty"`
	Delete *OpenAPIOperation `json:"delete,omitempty"`
}

// OpenAPIOperation describes an API operation.
type OpenAPIOperation struct {
	Summary     string                     `json:"summary"`
	Description string                     `json:"description,omitempty"`
	OperationID string                     `json:"operationId"`
	Tags        []string                   `json:"tags,omitempty"`
	Parameters  []OpenAPIParameter         `json:"parameters,omitempty"`
	RequestBody *OpenAPIRequestBody        `json:"requestBody,omitempty"`
	Responses   map[string]OpenAPIResponse `json:"responses"`
}

// OpenAPIParameter describes a parameter.
type OpenAPIParameter struct {
	Name        string        `json:"name"`
	In          string        `json:"in"`
	Description string        `json:"description,omitempty"`
	Required    bool          `json:"required"`
	Schema      OpenAPISchema `json:"schema"`
}

// OpenAPIRequestBody describes a request body.
type OpenAPIRequestBody struct {
	Description string                      `json:"description,omitempty"`
	Required    bool                        `json:"required"`
	Content     map[string]OpenAPIMediaType `json:"content"`
}

// OpenAPIResponse describes a response.
type OpenAPIResponse struct {
	Description string                      `json:"description"`
	Content     map[string]OpenAPIMediaType `json:"content,omitempty"`
}

// OpenAPIMediaType describes a media type.
type OpenAPIMediaType struct {
	Schema OpenAPISchema `json:"schema"`
}

// OpenAPISchema describes a schema.
type OpenAPISchema struct {
	Type        string                   `json:"type,omitempty"`
	Format      string                   `json:"format,omitempty"`
	Description string                   `json:"description,omitempty"`
	Properties  map[string]OpenAPISchema `json:"properties,omitempty"`
	Items       *OpenAPISchema           `json:"items,omitempty"`
	Required    []string                 `json:"required,omitempty"`
	Default     any                      `json:"default,omitempty"`
	Ref         string                   `json:"$ref,omitempty"`
}

// OpenAPIComponents contains reusable components.
type OpenAPIComponents struct {
	Schemas map[string]OpenAPISchema `json:"schemas"`
}

// handleOpenAPI handles the GET /v1/openapi.json endpoint.
func (s *Server) handleOpenAPI(w http.ResponseWriter, r *http.Request) {
	spec := BuildOpenAPISpec()
	s.respondJSON(w, http.StatusOK, spec)
}

// jsonContent returns a JSON media type map referencing a component schema.
func jsonContent(schema string) map[string]OpenAPIMediaType {
	return map[string]OpenAPIMediaType{
		"application/json": {
			Schema: OpenAPISchema{Ref: "#/components/schemas/" + schema},
		},
	}
}

// withErrors adds error responses for the given status codes.
func withErrors(responses map[string]OpenAPIResponse, codes ...string) map[string]OpenAPIResponse {
	descriptions := map[string]string{
		"400": "Invalid request",
		"404": "Not found",
		"409": "Conflicts with the session state",
		"500": "Server error",
	}
	for _, code := range codes {
		responses[code] = OpenAPIResponse{
			Description: descriptions[code],
			Content:     jsonContent("ErrorResponse"),
		}
	}
	return responses
}

func pathParam(name, description string) OpenAPIParameter {
	return OpenAPIParameter{
		Name:        name,
		In:          "path",
		Description: description,
		Required:    true,
		Schema:      OpenAPISchema{Type: "string"},
	}
}

var (
	sessionIDParam  = pathParam("id", "Session identifier")
	citationIDParam = pathParam("citation", "Citation identifier")
)

// BuildOpenAPISpec constructs the OpenAPI v3 specification.
// This is exported so it can be used to generate static documentation.
func BuildOpenAPISpec() OpenAPISpec {
	return OpenAPISpec{
		OpenAPI: "3.0.3",
		Info: OpenAPIInfo{
			Title:       "pgEdge RAG Tracker API",
			Description: "REST API for tracking RAG pipeline progress and the citations in generated responses",
			Version:     "1.0.0",
		},
		Servers: []OpenAPIServer{
			{
				URL:         "/v1",
				Description: "API v1",
			},
		},
		Paths: map[string]OpenAPIPath{
			"/health": {
				Get: &OpenAPIOperation{
					Summary:     "Health check",
					Description: "Check if the server is running and healthy",
					OperationID: "getHealth",
					Tags:        []string{"System"},
					Responses: map[string]OpenAPIResponse{
						"200": {Description: "Server is healthy", Content: jsonContent("HealthResponse")},
					},
				},
			},
			"/sessions": {
				Get: &OpenAPIOperation{
					Summary:     "List sessions",
					Description: "List the live sessions, or the archived ones, newest first",
					OperationID: "listSessions",
					Tags:        []string{"Sessions"},
					Parameters: []OpenAPIParameter{
						{
							Name:        "archived",
							In:          "query",
							Description: "List archived sessions instead of live ones",
							Schema:      OpenAPISchema{Type: "boolean"},
						},
						{
							Name:        "limit",
							In:          "query",
							Description: "Maximum number of archived sessions",
							Schema:      OpenAPISchema{Type: "integer"},
						},
					},
					Responses: withErrors(map[string]OpenAPIResponse{
						"200": {Description: "List of sessions", Content: jsonContent("SessionsResponse")},
					}, "400", "404", "500"),
				},
				Post: &OpenAPIOperation{
					Summary:     "Create session",
					Description: "Start tracking a pipeline run for a query",
					OperationID: "createSession",
					Tags:        []string{"Sessions"},
					RequestBody: &OpenAPIRequestBody{
						Required: true,
						Content:  jsonContent("CreateSessionRequest"),
					},
					Responses: withErrors(map[string]OpenAPIResponse{
						"201": {Description: "Session created", Content: jsonContent("Snapshot")},
					}, "400"),
				},
			},
			"/sessions/{id}": {
				Get: &OpenAPIOperation{
					Summary:     "Get session",
					Description: "Get the current snapshot of a session, including archived sessions",
					OperationID: "getSession",
					Tags:        []string{"Sessions"},
					Parameters:  []OpenAPIParameter{sessionIDParam},
					Responses: withErrors(map[string]OpenAPIResponse{
						"200": {Description: "Session snapshot", Content: jsonContent("Snapshot")},
					}, "404", "500"),
				},
				Delete: &OpenAPIOperation{
					Summary:     "Delete session",
					Description: "Stop tracking a session",
					OperationID: "deleteSession",
					Tags:        []string{"Sessions"},
					Parameters:  []OpenAPIParameter{sessionIDParam},
					Responses: withErrors(map[string]OpenAPIResponse{
						"204": {Description: "Session removed"},
					}, "404"),
				},
			},
			"/sessions/{id}/events": {
				Post: &OpenAPIOperation{
					Summary:     "Record stage event",
					Description: "Apply a stage transition emitted by the orchestrator",
					OperationID: "postEvent",
					Tags:        []string{"Sessions"},
					Parameters:  []OpenAPIParameter{sessionIDParam},
					RequestBody: &OpenAPIRequestBody{
						Required: true,
						Content:  jsonContent("Event"),
					},
					Responses: withErrors(map[string]OpenAPIResponse{
						"200": {Description: "Updated snapshot", Content: jsonContent("Snapshot")},
					}, "400", "404", "409"),
				},
			},
			"/sessions/{id}/run": {
				Post: &OpenAPIOperation{
					Summary:     "Record pipeline run",
					Description: "Record every stage of a run in order, stopping at a reported failure",
					OperationID: "postRun",
					Tags:        []string{"Sessions"},
					Parameters:  []OpenAPIParameter{sessionIDParam},
					RequestBody: &OpenAPIRequestBody{
						Required: true,
						Content:  jsonContent("RunRequest"),
					},
					Responses: withErrors(map[string]OpenAPIResponse{
						"200": {Description: "Updated snapshot", Content: jsonContent("Snapshot")},
					}, "400", "404", "409"),
				},
			},
			"/sessions/{id}/export": {
				Get: &OpenAPIOperation{
					Summary:     "Export session",
					Description: "Download the session snapshot as a JSON file",
					OperationID: "exportSession",
					Tags:        []string{"Sessions"},
					Parameters:  []OpenAPIParameter{sessionIDParam},
					Responses: withErrors(map[string]OpenAPIResponse{
						"200": {Description: "Session snapshot attachment", Content: jsonContent("Snapshot")},
					}, "404"),
				},
			},
			"/sessions/{id}/citations": {
				Get: &OpenAPIOperation{
					Summary:     "Get citations",
					Description: "Get the citations referenced by the generated response",
					OperationID: "getCitations",
					Tags:        []string{"Citations"},
					Parameters: []OpenAPIParameter{
						sessionIDParam,
						{
							Name:        "group",
							In:          "query",
							Description: "Group citations by source type (defaults to the group_citations preference)",
							Schema:      OpenAPISchema{Type: "boolean"},
						},
					},
					Responses: withErrors(map[string]OpenAPIResponse{
						"200": {Description: "Referenced citations", Content: jsonContent("CitationsResponse")},
					}, "400", "404", "409"),
				},
			},
			"/sessions/{id}/citations/{citation}/text": {
				Get: &OpenAPIOperation{
					Summary:     "Citation text",
					Description: "Get the plain-text form of a citation for copying",
					OperationID: "getCitationText",
					Tags:        []string{"Citations"},
					Parameters:  []OpenAPIParameter{sessionIDParam, citationIDParam},
					Responses: withErrors(map[string]OpenAPIResponse{
						"200": {
							Description: "Formatted citation",
							Content: map[string]OpenAPIMediaType{
								"text/plain": {Schema: OpenAPISchema{Type: "string"}},
							},
						},
					}, "404"),
				},
			},
			"/sessions/{id}/citations/{citation}/highlight": {
				Post: &OpenAPIOperation{
					Summary:     "Highlight citation",
					Description: "Highlight a citation for every viewer of the session until the highlight window passes",
					OperationID: "highlightCitation",
					Tags:        []string{"Citations"},
					Parameters: []OpenAPIParameter{
						sessionIDParam,
						citationIDParam,
						{
							Name:        "marker",
							In:          "query",
							Description: "Zero-based marker occurrence in the response text",
							Schema:      OpenAPISchema{Type: "integer"},
						},
					},
					Responses: withErrors(map[string]OpenAPIResponse{
						"200": {Description: "Snapshot with the highlight", Content: jsonContent("Snapshot")},
					}, "400", "404", "409"),
				},
			},
			"/preferences": {
				Get: &OpenAPIOperation{
					Summary:     "Get preferences",
					OperationID: "getPreferences",
					Tags:        []string{"Preferences"},
					Responses: map[string]OpenAPIResponse{
						"200": {Description: "Current preferences", Content: jsonContent("Preferences")},
					},
				},
				Put: &OpenAPIOperation{
					Summary:     "Update preferences",
					Description: "Update presentation preferences; omitted fields are unchanged",
					OperationID: "putPreferences",
					Tags:        []string{"Preferences"},
					RequestBody: &OpenAPIRequestBody{
						Required: true,
						Content:  jsonContent("Preferences"),
					},
					Responses: withErrors(map[string]OpenAPIResponse{
						"200": {Description: "Updated preferences", Content: jsonContent("Preferences")},
					}, "400"),
				},
			},
		},
		Components: OpenAPIComponents{
			Schemas: componentSchemas(),
		},
	}
}

func componentSchemas() map[string]OpenAPISchema {
	str := func(desc string) OpenAPISchema { return OpenAPISchema{Type: "string", Description: desc} }
	integer := func(desc string) OpenAPISchema { return OpenAPISchema{Type: "integer", Description: desc} }
	ref := func(name string) *OpenAPISchema { return &OpenAPISchema{Ref: "#/components/schemas/" + name} }

	return map[string]OpenAPISchema{
		"HealthResponse": {
			Type:       "object",
			Properties: map[string]OpenAPISchema{"status": str("Health status")},
			Required:   []string{"status"},
		},
		"CreateSessionRequest": {
			Type:       "object",
			Properties: map[string]OpenAPISchema{"query": str("The submitted question")},
			Required:   []string{"query"},
		},
		"SessionsResponse": {
			Type: "object",
			Properties: map[string]OpenAPISchema{
				"sessions": {Type: "array", Items: ref("SessionInfo")},
			},
			Required: []string{"sessions"},
		},
		"SessionInfo": {
			Type: "object",
			Properties: map[string]OpenAPISchema{
				"id":        str("Session identifier"),
				"query":     str("Submitted query"),
				"status":    str("pending, running, completed or error"),
				"timestamp": {Type: "string", Format: "date-time"},
			},
			Required: []string{"id", "status", "timestamp"},
		},
		"Event": {
			Type: "object",
			Properties: map[string]OpenAPISchema{
				"stepName":  str("queryEmbedding, documentRetrieval, contextAssembly or responseGeneration"),
				"status":    str("pending, processing, completed or error"),
				"data":      {Type: "object", Description: "Stage payload, recorded on completion"},
				"error":     str("Failure message, recorded on error"),
				"timestamp": integer("Milliseconds since the Unix epoch, must be positive"),
			},
			Required: []string{"stepName", "status", "timestamp"},
		},
		"RunRequest": {
			Type: "object",
			Properties: map[string]OpenAPISchema{
				"steps":   {Type: "object", Description: "Stage payloads keyed by stage name"},
				"failure": {Ref: "#/components/schemas/RunFailure"},
			},
		},
		"RunFailure": {
			Type: "object",
			Properties: map[string]OpenAPISchema{
				"stepName": str("Stage that failed"),
				"error":    str("Failure message"),
			},
			Required: []string{"stepName"},
		},
		"Stage": {
			Type: "object",
			Properties: map[string]OpenAPISchema{
				"name":        str("Stage name"),
				"status":      str("Stage status"),
				"start_time":  {Type: "string", Format: "date-time"},
				"end_time":    {Type: "string", Format: "date-time"},
				"duration_ms": integer("Stage duration, once finished"),
				"data":        {Type: "object", Description: "Stage payload"},
				"error":       str("Failure message"),
			},
			Required: []string{"name", "status"},
		},
		"Snapshot": {
			Type: "object",
			Properties: map[string]OpenAPISchema{
				"id":                str("Session identifier"),
				"query":             str("Submitted query"),
				"timestamp":         {Type: "string", Format: "date-time"},
				"status":            str("Derived session status"),
				"steps":             {Type: "array", Items: ref("Stage")},
				"total_duration_ms": integer("First start to last end, once finished"),
				"citations":         {Ref: "#/components/schemas/CitationReport"},
				"highlighted":       str("Currently highlighted citation"),
			},
			Required: []string{"id", "status", "steps"},
		},
		"Citation": {
			Type: "object",
			Properties: map[string]OpenAPISchema{
				"id":         str("Citation identifier"),
				"type":       str("text, image, document or web"),
				"title":      str("Title"),
				"content":    str("Cited content"),
				"url":        str("Source URL"),
				"image_path": str("Image location"),
				"metadata":   {Type: "object", Description: "Author, date, page number, scores and extra keys"},
			},
			Required: []string{"id", "type"},
		},
		"CitationReport": {
			Type: "object",
			Properties: map[string]OpenAPISchema{
				"extracted_ids": {Type: "array", Items: &OpenAPISchema{Type: "string"}},
				"referenced":    {Type: "array", Items: ref("Citation")},
				"missing":       {Type: "array", Items: &OpenAPISchema{Type: "string"}},
				"missing_count": integer("Number of cited ids absent from the collection"),
			},
			Required: []string{"extracted_ids", "referenced", "missing_count"},
		},
		"CitationsResponse": {
			Type: "object",
			Properties: map[string]OpenAPISchema{
				"extracted_ids": {Type: "array", Items: &OpenAPISchema{Type: "string"}},
				"referenced":    {Type: "array", Items: ref("Citation")},
				"missing":       {Type: "array", Items: &OpenAPISchema{Type: "string"}},
				"missing_count": integer("Number of cited ids absent from the collection"),
				"groups":        {Type: "array", Items: ref("CitationGroup")},
			},
			Required: []string{"extracted_ids", "referenced", "missing_count"},
		},
		"CitationGroup": {
			Type: "object",
			Properties: map[string]OpenAPISchema{
				"source_type": str("Shared source type"),
				"citations":   {Type: "array", Items: ref("Citation")},
			},
			Required: []string{"source_type", "citations"},
		},
		"Preferences": {
			Type: "object",
			Properties: map[string]OpenAPISchema{
				"tts_enabled":           {Type: "boolean"},
				"auto_scroll_citations": {Type: "boolean"},
				"group_citations":       {Type: "boolean"},
				"highlight_duration":    {Type: "string", Description: "Go duration, e.g. 2s", Default: "2s"},
			},
		},
		"ErrorResponse": {
			Type: "object",
			Properties: map[string]OpenAPISchema{
				"error": {Ref: "#/components/schemas/ErrorDetail"},
			},
			Required: []string{"error"},
		},
		"ErrorDetail": {
			Type: "object",
			Properties: map[string]OpenAPISchema{
				"code":    str("Error code"),
				"message": str("Error message"),
			},
			Required: []string{"code", "message"},
		},
	}
}
