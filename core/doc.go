// Package core centralizes the domain contracts of VoiceMesh: the call and
// its append-only utterance history, transport events and commands, reminder
// jobs, knowledge chunks and the collaborator interfaces (Transport,
// Retriever, JobStore, AppointmentStore). Concrete implementations live in
// their own packages (registry, scheduler, knowledge, store, transport) and
// are selected at wiring time, keeping higher layers free of storage or
// vendor dependencies.
package core
