// Package knowledge contains the retriever that grounds live dialogue in the
// practice knowledge base. The core.Retriever contract lives in the core
// package; this package provides an embedded in-process index over the
// chunks the ingestion collaborator writes. Vendor embedding adapters live
// in subpackages (openai); plug a different Embedder at wiring time without
// changing any calling code.
package knowledge
