package tracker

import "github.com/invopop/jsonschema"

// Schema returns JSON schema of the stored blob, an object of job id -> TrackedJob
func Schema() *jsonschema.Schema {
	r := jsonschema.Reflector{ExpandedStruct: true}
	job := r.Reflect(&TrackedJob{})
	job.Version = ""

	schema := &jsonschema.Schema{
		Version:              jsonschema.Version,
		Title:                "jobtrack store",
		Description:          "Tracked jobs keyed by job id",
		Type:                 "object",
		AdditionalProperties: job,
	}
	return schema
}
