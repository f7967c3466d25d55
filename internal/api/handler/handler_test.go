package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/qs3c/anno_train_server/internal/corpus"
	"github.com/qs3c/anno_train_server/internal/model"
	"github.com/qs3c/anno_train_server/internal/pkg/pubsub"
	"github.com/qs3c/anno_train_server/internal/pkg/queue"
	"github.com/qs3c/anno_train_server/internal/pkg/response"
	"github.com/qs3c/anno_train_server/internal/pkg/ws"
	"github.com/qs3c/anno_train_server/internal/repository"
	"github.com/qs3c/anno_train_server/internal/service"
	"github.com/qs3c/anno_train_server/internal/testutil"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type apiFixture struct {
	router *gin.Engine
	db     *gorm.DB
	queue  *queue.Queue
}

func setupAPI(t *testing.T) *apiFixture {
	t.Helper()

	db := testutil.SetupTestDB(t)
	t.Cleanup(func() { testutil.CleanupTestDB(t, db) })

	client := testutil.SetupTestRedis(t)
	q := queue.NewQueue(client, testutil.TestQueueName)

	datasetsDir, runsDir := t.TempDir(), t.TempDir()

	projectRepo := repository.NewProjectRepository(db)
	classRepo := repository.NewClassRepository(db)
	imageRepo := repository.NewImageRepository(db)
	versionRepo := repository.NewDatasetVersionRepository(db)
	jobRepo := repository.NewTrainingJobRepository(db)
	modelRepo := repository.NewCustomModelRepository(db)

	projects := NewProjectHandler(service.NewProjectService(projectRepo, classRepo, imageRepo, modelRepo, datasetsDir, runsDir))
	datasets := NewDatasetHandler(service.NewDatasetService(versionRepo, imageRepo, projectRepo))
	training := NewTrainingHandler(service.NewTrainingService(
		jobRepo, versionRepo, projectRepo, q,
		pubsub.NewPublisher(client),
		corpus.NewMaterializer(datasetsDir),
		nil,
		runsDir,
	))
	models := NewCustomModelHandler(service.NewCustomModelService(modelRepo, projectRepo))

	r := gin.New()
	r.POST("/projects", projects.Create)
	r.GET("/projects/:id", projects.Get)
	r.DELETE("/projects/:id", projects.Delete)
	r.POST("/projects/:id/versions", datasets.CreateVersion)
	r.GET("/projects/:id/versions", datasets.ListVersions)
	r.GET("/versions/:id", datasets.GetVersion)
	r.DELETE("/versions/:id", datasets.DeleteVersion)
	r.POST("/projects/:id/training", training.Start)
	r.GET("/projects/:id/training", training.List)
	r.GET("/training/:id", training.Get)
	r.DELETE("/training/:id", training.Delete)
	r.POST("/training/:id/stop", training.Stop)
	r.POST("/training/:id/cancel", training.Cancel)
	r.POST("/training/:id/evaluate", training.Evaluate)
	r.POST("/projects/:id/models", models.Register)
	r.GET("/projects/:id/models", models.List)
	r.DELETE("/models/:id", models.Delete)

	return &apiFixture{router: r, db: db, queue: q}
}

func performRequest(r http.Handler, method, path string, body interface{}) *httptest.ResponseRecorder {
	var reqBody *bytes.Buffer
	if body != nil {
		jsonBytes, _ := json.Marshal(body)
		reqBody = bytes.NewBuffer(jsonBytes)
	} else {
		reqBody = bytes.NewBuffer(nil)
	}

	req := httptest.NewRequest(method, path, reqBody)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func parseResponse(t *testing.T, w *httptest.ResponseRecorder) response.Response {
	var resp response.Response
	err := json.Unmarshal(w.Body.Bytes(), &resp)
	require.NoError(t, err)
	return resp
}

func dataMap(t *testing.T, resp response.Response) map[string]interface{} {
	t.Helper()
	data, ok := resp.Data.(map[string]interface{})
	require.True(t, ok, "data should be an object, got %T", resp.Data)
	return data
}

func TestProjectHandler_CreateAndGet(t *testing.T) {
	f := setupAPI(t)

	w := performRequest(f.router, "POST", "/projects", map[string]interface{}{
		"name":    "Cars",
		"classes": []map[string]string{{"name": "car"}, {"name": "truck", "color": "#00FF00"}},
	})
	assert.Equal(t, http.StatusOK, w.Code)
	resp := parseResponse(t, w)
	require.Equal(t, response.CodeSuccess, resp.Code)
	id := int64(dataMap(t, resp)["id"].(float64))

	w = performRequest(f.router, "GET", fmt.Sprintf("/projects/%d", id), nil)
	resp = parseResponse(t, w)
	require.Equal(t, response.CodeSuccess, resp.Code)
	data := dataMap(t, resp)
	assert.Equal(t, "Cars", data["name"])
	assert.Equal(t, "detection", data["project_type"])
	assert.Len(t, data["classes"], 2)
}

func TestProjectHandler_Errors(t *testing.T) {
	f := setupAPI(t)

	tests := []struct {
		name   string
		method string
		path   string
		body   interface{}
		code   int
	}{
		{"missing name", "POST", "/projects", map[string]string{}, response.CodeParamError},
		{"bad id", "GET", "/projects/abc", nil, response.CodeParamError},
		{"zero id", "GET", "/projects/0", nil, response.CodeParamError},
		{"unknown project", "GET", "/projects/9999", nil, response.CodeResourceNotFound},
		{"delete unknown", "DELETE", "/projects/9999", nil, response.CodeResourceNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := performRequest(f.router, tt.method, tt.path, tt.body)
			assert.Equal(t, http.StatusOK, w.Code)
			assert.Equal(t, tt.code, parseResponse(t, w).Code)
		})
	}
}

func TestDatasetHandler_VersionLifecycle(t *testing.T) {
	f := setupAPI(t)
	project := testutil.TestProject(t, f.db)
	class := testutil.TestClass(t, f.db, project.ID, "car")
	testutil.TestAnnotatedImages(t, f.db, project.ID, class.ID, 10)

	w := performRequest(f.router, "POST", fmt.Sprintf("/projects/%d/versions", project.ID), map[string]interface{}{"seed": 42})
	resp := parseResponse(t, w)
	require.Equal(t, response.CodeSuccess, resp.Code)
	version := dataMap(t, resp)
	assert.Equal(t, "Version 1", version["name"])
	assert.Equal(t, float64(10), version["total_images"])
	versionID := int64(version["id"].(float64))

	w = performRequest(f.router, "GET", fmt.Sprintf("/projects/%d/versions", project.ID), nil)
	resp = parseResponse(t, w)
	require.Equal(t, response.CodeSuccess, resp.Code)
	items := dataMap(t, resp)["versions"].([]interface{})
	require.Len(t, items, 1)
	item := items[0].(map[string]interface{})
	assert.Equal(t, float64(7), item["train_count"])
	assert.Equal(t, float64(2), item["val_count"])
	assert.Equal(t, float64(1), item["test_count"])

	w = performRequest(f.router, "GET", fmt.Sprintf("/versions/%d", versionID), nil)
	assert.Equal(t, response.CodeSuccess, parseResponse(t, w).Code)

	w = performRequest(f.router, "DELETE", fmt.Sprintf("/versions/%d", versionID), nil)
	assert.Equal(t, response.CodeSuccess, parseResponse(t, w).Code)

	w = performRequest(f.router, "GET", fmt.Sprintf("/versions/%d", versionID), nil)
	assert.Equal(t, response.CodeResourceNotFound, parseResponse(t, w).Code)
}

func TestDatasetHandler_CreateVersion_Errors(t *testing.T) {
	f := setupAPI(t)
	project := testutil.TestProject(t, f.db)
	path := fmt.Sprintf("/projects/%d/versions", project.ID)

	// 比例之和不为 1
	w := performRequest(f.router, "POST", path, map[string]interface{}{
		"train_split": 0.5, "val_split": 0.2, "test_split": 0.1,
	})
	assert.Equal(t, response.CodeParamError, parseResponse(t, w).Code)

	w = performRequest(f.router, "POST", path, map[string]interface{}{})
	assert.Equal(t, response.CodeInsufficientData, parseResponse(t, w).Code)
}

func TestDatasetHandler_DeleteVersion_InUse(t *testing.T) {
	f := setupAPI(t)
	project := testutil.TestProject(t, f.db)
	version := testutil.TestVersion(t, f.db, project.ID, model.SplitIDs{Train: []int64{1}})
	testutil.TestJob(t, f.db, project.ID, testutil.WithVersion(version.ID))

	w := performRequest(f.router, "DELETE", fmt.Sprintf("/versions/%d", version.ID), nil)
	assert.Equal(t, response.CodeConflict, parseResponse(t, w).Code)
}

func TestTrainingHandler_StartQueuesJob(t *testing.T) {
	f := setupAPI(t)
	project := testutil.TestProject(t, f.db)

	w := performRequest(f.router, "POST", fmt.Sprintf("/projects/%d/training", project.ID), map[string]interface{}{
		"epochs": 5,
	})
	resp := parseResponse(t, w)
	require.Equal(t, response.CodeSuccess, resp.Code)
	job := dataMap(t, resp)
	assert.Equal(t, model.JobStatusPending, job["status"])
	assert.Equal(t, "m", job["model_size"])
	assert.Equal(t, float64(5), job["epochs"])

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	msg, err := f.queue.Pop(ctx, time.Second)
	require.NoError(t, err)
	require.NotNil(t, msg)
	assert.Equal(t, int64(job["id"].(float64)), msg.JobID)
	assert.Equal(t, queue.KindTrain, msg.Kind)

	w = performRequest(f.router, "GET", fmt.Sprintf("/projects/%d/training", project.ID), nil)
	resp = parseResponse(t, w)
	require.Equal(t, response.CodeSuccess, resp.Code)
	assert.Len(t, dataMap(t, resp)["jobs"], 1)
}

func TestTrainingHandler_StartValidation(t *testing.T) {
	f := setupAPI(t)
	project := testutil.TestProject(t, f.db)

	w := performRequest(f.router, "POST", fmt.Sprintf("/projects/%d/training", project.ID), map[string]interface{}{
		"model_size": "xxl",
	})
	assert.Equal(t, response.CodeParamError, parseResponse(t, w).Code)

	w = performRequest(f.router, "POST", "/projects/9999/training", map[string]interface{}{})
	assert.Equal(t, response.CodeResourceNotFound, parseResponse(t, w).Code)
}

func TestTrainingHandler_StopAndCancel(t *testing.T) {
	f := setupAPI(t)
	project := testutil.TestProject(t, f.db)
	pending := testutil.TestJob(t, f.db, project.ID)
	training := testutil.TestJob(t, f.db, project.ID, testutil.WithJobStatus(model.JobStatusTraining))

	// 只有训练中的任务可以提前停止
	w := performRequest(f.router, "POST", fmt.Sprintf("/training/%d/stop", pending.ID), nil)
	assert.Equal(t, response.CodeInvalidState, parseResponse(t, w).Code)

	w = performRequest(f.router, "POST", fmt.Sprintf("/training/%d/stop", training.ID), nil)
	assert.Equal(t, response.CodeSuccess, parseResponse(t, w).Code)

	w = performRequest(f.router, "POST", fmt.Sprintf("/training/%d/cancel", pending.ID), nil)
	assert.Equal(t, response.CodeSuccess, parseResponse(t, w).Code)

	w = performRequest(f.router, "GET", fmt.Sprintf("/training/%d", pending.ID), nil)
	resp := parseResponse(t, w)
	require.Equal(t, response.CodeSuccess, resp.Code)
	assert.Equal(t, model.JobStatusFailed, dataMap(t, resp)["status"])

	// 已结束的任务不能再取消
	w = performRequest(f.router, "POST", fmt.Sprintf("/training/%d/cancel", pending.ID), nil)
	assert.Equal(t, response.CodeInvalidState, parseResponse(t, w).Code)
}

func TestTrainingHandler_Delete(t *testing.T) {
	f := setupAPI(t)
	project := testutil.TestProject(t, f.db)
	active := testutil.TestJob(t, f.db, project.ID, testutil.WithJobStatus(model.JobStatusTraining))
	done := testutil.TestJob(t, f.db, project.ID, testutil.WithJobStatus(model.JobStatusCompleted))

	w := performRequest(f.router, "DELETE", fmt.Sprintf("/training/%d", active.ID), nil)
	resp := parseResponse(t, w)
	require.Equal(t, response.CodeSuccess, resp.Code)
	assert.Equal(t, true, dataMap(t, resp)["cancelled"])

	w = performRequest(f.router, "DELETE", fmt.Sprintf("/training/%d", done.ID), nil)
	resp = parseResponse(t, w)
	require.Equal(t, response.CodeSuccess, resp.Code)
	assert.Equal(t, true, dataMap(t, resp)["deleted"])

	w = performRequest(f.router, "GET", fmt.Sprintf("/training/%d", done.ID), nil)
	assert.Equal(t, response.CodeResourceNotFound, parseResponse(t, w).Code)
}

func TestTrainingHandler_Evaluate(t *testing.T) {
	f := setupAPI(t)
	project := testutil.TestProject(t, f.db)
	pending := testutil.TestJob(t, f.db, project.ID)

	w := performRequest(f.router, "POST", fmt.Sprintf("/training/%d/evaluate", pending.ID), nil)
	assert.Equal(t, response.CodeInvalidState, parseResponse(t, w).Code)

	done := testutil.TestJob(t, f.db, project.ID, func(j *model.TrainingJob) {
		j.Status = model.JobStatusCompleted
		j.ModelPath = "training_runs/best.pt"
	})
	w = performRequest(f.router, "POST", fmt.Sprintf("/training/%d/evaluate", done.ID), nil)
	assert.Equal(t, response.CodeSuccess, parseResponse(t, w).Code)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	msg, err := f.queue.Pop(ctx, time.Second)
	require.NoError(t, err)
	require.NotNil(t, msg)
	assert.Equal(t, queue.KindEvaluate, msg.Kind)
	assert.Equal(t, done.ID, msg.JobID)
}

func TestCustomModelHandler_Lifecycle(t *testing.T) {
	f := setupAPI(t)
	project := testutil.TestProject(t, f.db)

	weights := filepath.Join(t.TempDir(), "custom.pt")
	require.NoError(t, os.WriteFile(weights, make([]byte, 2048), 0o644))

	path := fmt.Sprintf("/projects/%d/models", project.ID)
	w := performRequest(f.router, "POST", path, map[string]string{"name": "mine", "file_path": weights})
	resp := parseResponse(t, w)
	require.Equal(t, response.CodeSuccess, resp.Code)
	modelID := int64(dataMap(t, resp)["id"].(float64))

	w = performRequest(f.router, "POST", path, map[string]string{"name": "bad", "file_path": "weights.onnx"})
	assert.Equal(t, response.CodeParamError, parseResponse(t, w).Code)

	w = performRequest(f.router, "GET", path, nil)
	resp = parseResponse(t, w)
	require.Equal(t, response.CodeSuccess, resp.Code)
	assert.Len(t, dataMap(t, resp)["models"], 1)

	w = performRequest(f.router, "DELETE", fmt.Sprintf("/models/%d", modelID), nil)
	assert.Equal(t, response.CodeSuccess, parseResponse(t, w).Code)

	w = performRequest(f.router, "DELETE", fmt.Sprintf("/models/%d", modelID), nil)
	assert.Equal(t, response.CodeResourceNotFound, parseResponse(t, w).Code)
}

func TestWebSocketHandler_RequiresProject(t *testing.T) {
	r := gin.New()
	r.GET("/ws", NewWebSocketHandler(nil, nil).Handle)

	w := performRequest(r, "GET", "/ws", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = performRequest(r, "GET", "/ws?project_id=abc", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestWebSocketHandler_RegistersProjectWatcher(t *testing.T) {
	hub := ws.NewHub()
	r := gin.New()
	r.GET("/ws", NewWebSocketHandler(hub, []string{"http://localhost:3000"}).Handle)
	server := httptest.NewServer(r)
	defer server.Close()

	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws?project_id=3"

	header := http.Header{"Origin": []string{"http://evil.test"}}
	_, _, err := websocket.DefaultDialer.Dial(url, header)
	assert.Error(t, err)

	header = http.Header{"Origin": []string{"http://localhost:3000"}}
	conn, _, err := websocket.DefaultDialer.Dial(url, header)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return hub.IsWatched(3) }, time.Second, 10*time.Millisecond)

	conn.Close()
	require.Eventually(t, func() bool { return !hub.IsWatched(3) }, time.Second, 10*time.Millisecond)
}
