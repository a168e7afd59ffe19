package scenario

// Default returns a registry holding every built-in scenario, in the order
// they run: cheap probes first, then content, library and job pipelines.
func Default() *Registry {
	r := NewRegistry()
	for _, s := range []*Scenario{
		Health(),
		DuplicateDetection(),
		CodeBlocks(),
		TOCAnchors(),
		ContentQuality(),
		LibraryCRUD(),
		Upload(),
		Training(),
		Assets(),
		Media(),
		QADiagnostics(),
		CrossArticle(),
		Concurrency(),
		MongoVerify(),
	} {
		r.MustRegister(s)
	}
	return r
}
