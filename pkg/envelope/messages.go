package envelope

// This file holds the typed payloads for every wire message the control
// plane exchanges. Each Encode/Decode pair is a thin convenience wrapper
// around Envelope.SetField/Field — the envelope itself stays payload-agnostic.

// SuppLangRequest carries no payload beyond the envelope header.
type SuppLangRequest struct{}

// SuppLangResponse maps a source language to its available target
// languages.
type SuppLangResponse struct {
	Langs map[string][]string `json:"langs"`
}

// Encode builds a complete supported-languages response envelope.
func (r SuppLangResponse) Encode() (*Envelope, error) {
	e := Build(MsgSuppLangResponse)
	e.SetStatus(StatusOK, "")
	if err := e.SetField("langs", r.Langs); err != nil {
		return nil, err
	}
	return e, nil
}

// DecodeSuppLangResponse extracts the payload from a parsed envelope.
func DecodeSuppLangResponse(e *Envelope) (SuppLangResponse, error) {
	var r SuppLangResponse
	err := e.Field("langs", &r.Langs)
	return r, err
}

// TranslationJobRequest is the client's request to translate a batch of
// sentences.
type TranslationJobRequest struct {
	JobID      uint64   `json:"job_id"`
	SourceLang string   `json:"source_lang"`
	TargetLang string   `json:"target_lang"`
	TransInfo  bool     `json:"trans_info"`
	SourceSent []string `json:"source_sent"`
}

// Encode builds a complete translation-job-request envelope.
func (r TranslationJobRequest) Encode() (*Envelope, error) {
	e := Build(MsgTranslationJobRequest)
	for name, val := range map[string]interface{}{
		"job_id":      r.JobID,
		"source_lang": r.SourceLang,
		"target_lang": r.TargetLang,
		"trans_info":  r.TransInfo,
		"source_sent": r.SourceSent,
	} {
		if err := e.SetField(name, val); err != nil {
			return nil, err
		}
	}
	return e, nil
}

// DecodeTranslationJobRequest extracts the payload from a parsed envelope.
// Every mandatory field is read explicitly so absence surfaces as
// ErrMissingField rather than a zero value.
func DecodeTranslationJobRequest(e *Envelope) (TranslationJobRequest, error) {
	var r TranslationJobRequest
	if err := e.Field("job_id", &r.JobID); err != nil {
		return r, err
	}
	if err := e.Field("source_lang", &r.SourceLang); err != nil {
		return r, err
	}
	if err := e.Field("target_lang", &r.TargetLang); err != nil {
		return r, err
	}
	if err := e.Field("trans_info", &r.TransInfo); err != nil {
		return r, err
	}
	if err := e.Field("source_sent", &r.SourceSent); err != nil {
		return r, err
	}
	return r, nil
}

// TargetSentence is one entry of a translation job response.
type TargetSentence struct {
	TransText string  `json:"trans_text"`
	StackLoad float64 `json:"stack_load,omitempty"`
}

// TranslationJobResponse carries the per-sentence translation results.
type TranslationJobResponse struct {
	JobID      uint64           `json:"job_id"`
	TargetData []TargetSentence `json:"target_data"`
}

// Encode builds a complete translation-job-response envelope with the given
// status.
func (r TranslationJobResponse) Encode(code StatusCode, msg string) (*Envelope, error) {
	e := Build(MsgTranslationJobResponse)
	e.SetStatus(code, msg)
	if err := e.SetField("job_id", r.JobID); err != nil {
		return nil, err
	}
	if err := e.SetField("target_data", r.TargetData); err != nil {
		return nil, err
	}
	return e, nil
}

// DecodeTranslationJobResponse extracts the payload from a parsed envelope.
func DecodeTranslationJobResponse(e *Envelope) (TranslationJobResponse, error) {
	var r TranslationJobResponse
	if err := e.Field("job_id", &r.JobID); err != nil {
		return r, err
	}
	if err := e.Field("target_data", &r.TargetData); err != nil {
		return r, err
	}
	return r, nil
}

// ProcessorRequest carries one chunk of a pre/post-processor job.
type ProcessorRequest struct {
	JobToken  string `json:"job_token"`
	ChunkIdx  int    `json:"chunk_idx"`
	NumChunks int    `json:"num_chunks"`
	Priority  int    `json:"priority"`
	Language  string `json:"language"`
	Chunk     string `json:"chunk"`
}

// Encode builds a complete processor-request envelope.
func (r ProcessorRequest) Encode() (*Envelope, error) {
	e := Build(MsgProcessorRequest)
	for name, val := range map[string]interface{}{
		"job_token":  r.JobToken,
		"chunk_idx":  r.ChunkIdx,
		"num_chunks": r.NumChunks,
		"priority":   r.Priority,
		"language":   r.Language,
		"chunk":      r.Chunk,
	} {
		if err := e.SetField(name, val); err != nil {
			return nil, err
		}
	}
	return e, nil
}

// DecodeProcessorRequest extracts the payload from a parsed envelope.
func DecodeProcessorRequest(e *Envelope) (ProcessorRequest, error) {
	var r ProcessorRequest
	if err := e.Field("job_token", &r.JobToken); err != nil {
		return r, err
	}
	if err := e.Field("chunk_idx", &r.ChunkIdx); err != nil {
		return r, err
	}
	if err := e.Field("num_chunks", &r.NumChunks); err != nil {
		return r, err
	}
	if err := e.Field("priority", &r.Priority); err != nil {
		return r, err
	}
	if err := e.Field("language", &r.Language); err != nil {
		return r, err
	}
	if err := e.Field("chunk", &r.Chunk); err != nil {
		return r, err
	}
	return r, nil
}

// ProcessorResponse carries a processed chunk, or an error, back to the
// client. Chunk/ChunkIdx/NumChunks are only populated on success.
type ProcessorResponse struct {
	JobToken  string `json:"job_token"`
	Language  string `json:"language,omitempty"`
	Chunk     string `json:"chunk,omitempty"`
	ChunkIdx  int    `json:"chunk_idx,omitempty"`
	NumChunks int    `json:"num_chunks,omitempty"`
}

// Encode builds a complete processor-response envelope with the given
// status.
func (r ProcessorResponse) Encode(code StatusCode, msg string) (*Envelope, error) {
	e := Build(MsgProcessorResponse)
	e.SetStatus(code, msg)
	if err := e.SetField("job_token", r.JobToken); err != nil {
		return nil, err
	}
	if r.Language != "" {
		if err := e.SetField("language", r.Language); err != nil {
			return nil, err
		}
	}
	if code == StatusOK || code == StatusPartial {
		if err := e.SetField("chunk", r.Chunk); err != nil {
			return nil, err
		}
		if err := e.SetField("chunk_idx", r.ChunkIdx); err != nil {
			return nil, err
		}
		if err := e.SetField("num_chunks", r.NumChunks); err != nil {
			return nil, err
		}
	}
	return e, nil
}

// DecodeProcessorResponse extracts the payload from a parsed envelope.
func DecodeProcessorResponse(e *Envelope) (ProcessorResponse, error) {
	var r ProcessorResponse
	if err := e.Field("job_token", &r.JobToken); err != nil {
		return r, err
	}
	_ = e.Field("language", &r.Language)
	_ = e.Field("chunk", &r.Chunk)
	_ = e.Field("chunk_idx", &r.ChunkIdx)
	_ = e.Field("num_chunks", &r.NumChunks)
	return r, nil
}
