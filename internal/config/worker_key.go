package config

type WorkerKeyStruct struct {
	PersistSubmissionsQueue string
}

var WorkerKey = &WorkerKeyStruct{
	PersistSubmissionsQueue: "persist_submissions_queue",
}
