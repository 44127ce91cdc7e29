package notion

import (
	"encoding/json"
	"time"
)

// APIVersion is sent as the Notion-Version header on every call.
const APIVersion = "2022-06-28"

// Page is one Notion page as returned by the search endpoint.
type Page struct {
	ID             string                 `json:"id"`
	Object         string                 `json:"object"`
	CreatedTime    time.Time              `json:"created_time"`
	LastEditedTime time.Time              `json:"last_edited_time"`
	URL            string                 `json:"url"`
	Archived       bool                   `json:"archived"`
	Properties     map[string]interface{} `json:"properties"`
}

// Block is one content block. The type-keyed payload is pulled out
// dynamically into Content so the renderer can decode it per type.
type Block struct {
	ID             string                 `json:"id"`
	Type           string                 `json:"type"`
	CreatedTime    time.Time              `json:"created_time"`
	LastEditedTime time.Time              `json:"last_edited_time"`
	HasChildren    bool                   `json:"has_children"`
	Content        map[string]interface{} `json:"-"`

	// Children is populated by the recursive block fetch.
	Children []Block `json:"-"`
}

// UnmarshalJSON pulls the block's type-keyed body into Content.
func (b *Block) UnmarshalJSON(data []byte) error {
	type alias Block
	aux := &struct{ *alias }{alias: (*alias)(b)}
	if err := json.Unmarshal(data, aux); err != nil {
		return err
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if body, ok := raw[b.Type]; ok {
		var content map[string]interface{}
		if err := json.Unmarshal(body, &content); err != nil {
			return err
		}
		b.Content = content
	}
	return nil
}

// richText is the decoded shape of a rich_text array element.
type richText struct {
	PlainText string `mapstructure:"plain_text"`
	Text      struct {
		Content string `mapstructure:"content"`
	} `mapstructure:"text"`
}

// searchResponse is the /v1/search response envelope.
type searchResponse struct {
	Results    []Page `json:"results"`
	NextCursor string `json:"next_cursor"`
	HasMore    bool   `json:"has_more"`
}

// blockChildrenResponse is the /v1/blocks/{id}/children envelope.
type blockChildrenResponse struct {
	Results    []Block `json:"results"`
	NextCursor string  `json:"next_cursor"`
	HasMore    bool    `json:"has_more"`
}

// createPageResponse is the /v1/pages response.
type createPageResponse struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

// apiError is the Notion error envelope.
type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Status  int    `json:"status"`
}
