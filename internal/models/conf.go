package models

// ConfItem is the derived routing record for one routable deployment. It is
// never persisted: the snapshot loop regenerates items from Success
// deployments, and fan-out serializes one item as each task's content.
type ConfItem struct {
	UserID      int64  `json:"user_id"`
	ProjectID   int64  `json:"project_id"`
	DeployID    int64  `json:"deploy_id"`
	TaskID      string `json:"task_id"`
	FileName    string `json:"file_name"`
	FileHash    string `json:"file_hash"`
	DownloadURL string `json:"download_url"`
	Domain      string `json:"domain"`
}
