package service

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qs3c/anno_train_server/internal/model/dto"
	"github.com/qs3c/anno_train_server/internal/pkg/apperror"
	"github.com/qs3c/anno_train_server/internal/repository"
	"github.com/qs3c/anno_train_server/internal/testutil"
)

func TestHumanSize(t *testing.T) {
	tests := []struct {
		n    int64
		want string
	}{
		{0, "0 B"},
		{1023, "1023 B"},
		{1024, "1.0 KB"},
		{1536, "1.5 KB"},
		{6 * 1024 * 1024, "6.0 MB"},
		{3 * 1024 * 1024 * 1024 / 2, "1.50 GB"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, HumanSize(tt.n))
	}
}

func TestCustomModelService(t *testing.T) {
	db := setupDB(t)
	svc := NewCustomModelService(repository.NewCustomModelRepository(db), repository.NewProjectRepository(db))
	project := testutil.TestProject(t, db)

	weights := filepath.Join(t.TempDir(), "yolo_custom.pt")
	require.NoError(t, os.WriteFile(weights, make([]byte, 2048), 0o644))

	m, err := svc.Register(project.ID, &dto.RegisterModelRequest{Name: "custom", FilePath: weights})
	require.NoError(t, err)
	assert.Equal(t, "2.0 KB", m.FileSize)

	list, err := svc.List(project.ID)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, m.ID, list[0].ID)

	require.NoError(t, svc.Delete(m.ID))
	assert.NoFileExists(t, weights)
	assert.Equal(t, ErrModelNotFound, svc.Delete(m.ID))
}

func TestCustomModelService_Register_Rejected(t *testing.T) {
	db := setupDB(t)
	svc := NewCustomModelService(repository.NewCustomModelRepository(db), repository.NewProjectRepository(db))
	project := testutil.TestProject(t, db)

	onnx := filepath.Join(t.TempDir(), "model.onnx")
	require.NoError(t, os.WriteFile(onnx, []byte("x"), 0o644))

	tests := []struct {
		name string
		req  *dto.RegisterModelRequest
	}{
		{"wrong extension", &dto.RegisterModelRequest{Name: "m", FilePath: onnx}},
		{"missing file", &dto.RegisterModelRequest{Name: "m", FilePath: filepath.Join(t.TempDir(), "none.pt")}},
		{"missing name", &dto.RegisterModelRequest{FilePath: "a.pt"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Register(project.ID, tt.req)
			assert.Equal(t, apperror.CodeValidation, apperror.CodeOf(err))
		})
	}

	_, err := svc.Register(9999, &dto.RegisterModelRequest{Name: "m", FilePath: "a.pt"})
	assert.Equal(t, ErrProjectNotFound, err)
}
