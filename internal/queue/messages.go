package queue

// ExtractJobMsg asks a worker to run one extraction job against one
// document. FileKey points at the plain-text body in S3.
type ExtractJobMsg struct {
	JobID        string `json:"job_id"`
	ProjectID    int64  `json:"project_id"`
	DocumentID   string `json:"document_id"`
	DocumentName string `json:"document_name"`
	FileKey      string `json:"file_key"`
}

// InsightScanMsg asks a worker to scan a project's recent evidence for
// insights. Published after every completed extraction job.
type InsightScanMsg struct {
	ProjectID int64 `json:"project_id"`
}
