package api

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"pairchat/internal/models"
)

const uploadField = "file"

func allowedUpload(contentType string) bool {
	return strings.HasPrefix(contentType, "image/") ||
		strings.HasPrefix(contentType, "video/") ||
		contentType == "application/pdf"
}

// HandleUpload stores one media attachment under the upload directory and
// returns the path clients put in a message's mediaUrl.
func (h *Handlers) HandleUpload(w http.ResponseWriter, r *http.Request) {
	// Leave room for the multipart envelope around the file itself.
	r.Body = http.MaxBytesReader(w, r.Body, h.cfg.MaxUploadBytes+1<<20)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "File too large.")
			return
		}
		writeError(w, http.StatusBadRequest, "No file uploaded.")
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile(uploadField)
	if err != nil {
		writeError(w, http.StatusBadRequest, "No file uploaded.")
		return
	}
	defer file.Close()

	if header.Size > h.cfg.MaxUploadBytes {
		writeError(w, http.StatusRequestEntityTooLarge, "File too large.")
		return
	}
	contentType := header.Header.Get("Content-Type")
	if !allowedUpload(contentType) {
		writeError(w, http.StatusBadRequest, "Invalid file type.")
		return
	}

	if err := os.MkdirAll(h.cfg.UploadDir, 0o755); err != nil {
		h.logger.Error("failed to create upload directory", zap.String("dir", h.cfg.UploadDir), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Could not save file")
		return
	}

	name := fmt.Sprintf("%s-%s%s", uploadField, uuid.NewString(), strings.ToLower(filepath.Ext(header.Filename)))
	dest, err := os.Create(filepath.Join(h.cfg.UploadDir, name))
	if err != nil {
		h.logger.Error("failed to create upload", zap.String("file", name), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Could not save file")
		return
	}
	defer dest.Close()

	if _, err := io.Copy(dest, file); err != nil {
		h.logger.Error("failed to write upload", zap.String("file", name), zap.Error(err))
		_ = os.Remove(dest.Name())
		writeError(w, http.StatusInternalServerError, "Could not save file")
		return
	}

	writeJSON(w, http.StatusOK, models.UploadResponse{
		FilePath: "uploads/" + name,
		FileName: header.Filename,
		FileType: contentType,
	})
}

// uploadsHandler serves stored attachments under /uploads/. Directories are
// never listed.
func (h *Handlers) uploadsHandler() http.Handler {
	return http.StripPrefix("/uploads/", http.FileServer(regularFiles{root: http.Dir(h.cfg.UploadDir)}))
}

// regularFiles hides everything but regular files, directories included.
type regularFiles struct {
	root http.FileSystem
}

func (r regularFiles) Open(name string) (http.File, error) {
	f, err := r.root.Open(name)
	if err != nil {
		return nil, err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	if !info.Mode().IsRegular() {
		f.Close()
		return nil, fs.ErrNotExist
	}
	return f, nil
}
