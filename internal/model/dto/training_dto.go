package dto

// StartTrainingRequest 启动训练请求，零值字段使用默认值
type StartTrainingRequest struct {
	Name             string `json:"name"`
	DatasetVersionID *int64 `json:"dataset_version_id"`
	ModelSize        string `json:"model_size"`
	Epochs           int    `json:"epochs"`
	BatchSize        int    `json:"batch_size"`
	ImageSize        int    `json:"image_size"`

	// 设置后使用远程训练
	RemoteUsername string `json:"remote_username"`
	Hardware       string `json:"hardware"`
}

// DeleteJobResponse 删除活动中的任务时只做取消
type DeleteJobResponse struct {
	Deleted   bool `json:"deleted"`
	Cancelled bool `json:"cancelled"`
}
