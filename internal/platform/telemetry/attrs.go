package telemetry

import (
	"strconv"

	"go.opentelemetry.io/otel/attribute"
)

func methodAttr(method string) attribute.KeyValue {
	return attribute.String("method", method)
}

func pathAttr(path string) attribute.KeyValue {
	return attribute.String("path", path)
}

func statusAttr(status int) attribute.KeyValue {
	return attribute.String("status", strconv.Itoa(status))
}

func resultAttr(result string) attribute.KeyValue {
	return attribute.String("result", result)
}

func policyAttr(policy string) attribute.KeyValue {
	return attribute.String("policy", policy)
}

func kindAttr(kind string) attribute.KeyValue {
	return attribute.String("kind", kind)
}

func backendAttr(backend string) attribute.KeyValue {
	return attribute.String("backend", backend)
}
