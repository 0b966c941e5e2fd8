package httpapi

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"
	"strings"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

// maxRequestBody caps request bodies for both encodings. An issue request
// with a long room list is still well under 64 KiB.
const maxRequestBody = 64 << 10

const protobufContentType = "application/x-protobuf"

var errBodyTooLarge = errors.New("request body too large")

func isProtobufType(v string) bool {
	mt, _, err := mime.ParseMediaType(v)
	if err != nil {
		return false
	}
	return mt == protobufContentType || mt == "application/protobuf" || mt == "application/octet-stream"
}

// isProtobuf reports whether the request body is a protobuf Struct.
func isProtobuf(r *http.Request) bool {
	return isProtobufType(r.Header.Get("Content-Type"))
}

// wantsProtobuf reports whether the response should be a protobuf Struct.
// An explicit Accept wins; otherwise the reply mirrors the request body.
func wantsProtobuf(r *http.Request) bool {
	if accept := r.Header.Get("Accept"); accept != "" {
		for _, part := range strings.Split(accept, ",") {
			if isProtobufType(strings.TrimSpace(part)) {
				return true
			}
		}
		return false
	}
	return isProtobuf(r)
}

// readBody decodes the request into v. Protobuf payloads are a
// google.protobuf.Struct carrying the same fields as the JSON form. An
// empty body leaves v untouched.
func readBody(r *http.Request, v any) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBody+1))
	if err != nil {
		return err
	}
	if len(body) > maxRequestBody {
		return errBodyTooLarge
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return nil
	}

	if isProtobuf(r) {
		var st structpb.Struct
		if err := proto.Unmarshal(body, &st); err != nil {
			return err
		}
		body, err = structToJSON(&st)
		if err != nil {
			return err
		}
	}

	dec := json.NewDecoder(bytes.NewReader(body))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

// writeBody encodes v as JSON or, when the client asked for it, as a
// protobuf Struct.
func writeBody(w http.ResponseWriter, r *http.Request, status int, v any) {
	if r != nil && wantsProtobuf(r) {
		st, err := jsonToStruct(v)
		if err == nil {
			var data []byte
			data, err = proto.Marshal(st)
			if err == nil {
				w.Header().Set("Content-Type", protobufContentType)
				w.WriteHeader(status)
				_, _ = w.Write(data)
				return
			}
		}
		http.Error(w, "proto marshal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, status, v)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
