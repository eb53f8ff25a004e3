package http

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
)

// GraphQLQuery is implemented by every typed GraphQL request. Serialize
// returns the request's `variables` payload; Mutation, when true, causes
// the variables to be wrapped as `{"input": variables}` per Facebook's
// GraphQL mutation convention.
type GraphQLQuery interface {
	DocID() string
	FriendlyName() string
	Serialize() map[string]any
	Mutation() bool
	CallerClass() string
	AnalyticsTags() []string
	IncludeClientCountryCode() bool
}

// BaseQuery is embedded by concrete query/mutation types to supply the
// common defaults; callers override what they need.
type BaseQuery struct{}

func (BaseQuery) Mutation() bool                    { return false }
func (BaseQuery) CallerClass() string                { return "graphservice" }
func (BaseQuery) AnalyticsTags() []string            { return []string{"graphservice"} }
func (BaseQuery) IncludeClientCountryCode() bool     { return true }

// GraphQL executes req against the b-graph (or graph, if useB is false)
// host, decompressing dictionary-compressed responses and classifying
// errors.
func (c *Client) GraphQL(ctx context.Context, req GraphQLQuery, useB bool) (map[string]any, error) {
	variables := req.Serialize()
	var varPayload any = variables
	if req.Mutation() {
		varPayload = map[string]any{"input": variables}
	}
	variablesJSON, err := json.Marshal(varPayload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal graphql variables: %w", err)
	}

	params := map[string]string{
		"variables":                 string(variablesJSON),
		"method":                    "post",
		"doc_id":                    req.DocID(),
		"format":                    "json",
		"pretty":                    "false",
		"strip_defaults":            "false",
		"strip_nulls":               "false",
		"fb_api_req_friendly_name":  req.FriendlyName(),
		"fb_api_caller_class":       req.CallerClass(),
		"server_timestamps":        "true",
	}
	tagsJSON, _ := json.Marshal(req.AnalyticsTags())
	params["fb_api_analytics_tags"] = string(tagsJSON)
	for k, v := range c.Params() {
		params[k] = v
	}
	if !req.IncludeClientCountryCode() {
		delete(params, "client_country_code")
	}

	body := c.Format(params, false, nil)

	host := HostGraph
	if useB {
		host = HostBGraph
	}
	headers := map[string]string{
		"x-fb-friendly-name":      req.FriendlyName(),
		"x-fb-request-analytics-tags": "graphservice",
		"accept-encoding":         "x-fb-dz;d=1, gzip, deflate",
	}
	resp, err := c.PostForm(ctx, host+"/graphql", body, headers)
	if err != nil {
		return nil, err
	}
	data, err := c.decompressIfNeeded(resp)
	if err != nil {
		return nil, err
	}

	var decoded map[string]any
	if err := json.Unmarshal(data, &decoded); err != nil {
		return nil, &ResponseTypeError{Status: resp.StatusCode, Body: string(data)}
	}
	if err := handleResponseBody(resp.StatusCode, decoded); err != nil {
		return nil, err
	}
	return decoded, nil
}

// decompressIfNeeded reads resp's body, decompressing it with the zstd
// dictionary decoder when the server marks it with the x-fb-dz content
// encoding and dictionary flag.
func (c *Client) decompressIfNeeded(resp *http.Response) ([]byte, error) {
	data, err := ReadAll(resp)
	if err != nil {
		return nil, err
	}
	if resp.Header.Get("content-encoding") == "x-fb-dz" && resp.Header.Get("x-fb-dz-dict") == "1" {
		decompressed, err := decompressZstdDict(data)
		if err != nil {
			return nil, fmt.Errorf("failed to zstd-decompress dictionary response: %w", err)
		}
		c.Log.Trace().Int("compressed", len(data)).Int("decompressed", len(decompressed)).Msg("Decompressed zstd-dict response")
		return decompressed, nil
	}
	return data, nil
}
