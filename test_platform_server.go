package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"
)

// Fake recording platform for manual testing. Accepts live-init,
// segment slot requests, blob PUTs, finalize, and batch uploads, and
// logs everything it receives. All state is in memory.

var (
	mu            sync.Mutex
	nextRecording int
	blobs         = map[string]int{} // blob path -> size
	segments      = map[string]int{} // recording ID -> slot count
)

type liveInitRequest struct {
	ChannelID        string    `json:"channelId"`
	GuildID          string    `json:"guildId"`
	SessionStartTime time.Time `json:"sessionStartTime"`
	Format           string    `json:"format"`
	InitiatedBy      string    `json:"initiatedBy"`
}

type slotRequest struct {
	SpeakerID   string  `json:"speakerId"`
	SpeakerName string  `json:"speakerName"`
	Index       int     `json:"segmentIndex"`
	StartMs     int64   `json:"startMs"`
	Duration    float64 `json:"duration"`
	Size        int64   `json:"sizeBytes"`
	ContentType string  `json:"contentType"`
}

type finalizeRequest struct {
	SessionEndTime   time.Time `json:"sessionEndTime"`
	Duration         float64   `json:"duration"`
	TotalSize        int64     `json:"totalSize"`
	ParticipantCount int       `json:"participantCount"`
	AutoTranscribe   bool      `json:"autoTranscribe"`
	Segments         []struct {
		SpeakerID string `json:"speakerId"`
		Index     int    `json:"segmentIndex"`
		BlobPath  string `json:"blobPath"`
		Size      int64  `json:"sizeBytes"`
	} `json:"segments"`
}

func liveInitHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req liveInitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Bad JSON", http.StatusBadRequest)
		return
	}

	mu.Lock()
	nextRecording++
	recordingID := fmt.Sprintf("rec-%04d", nextRecording)
	segments[recordingID] = 0
	mu.Unlock()

	log.Printf("🎙️  LIVE INIT:")
	log.Printf("    Recording ID: %s", recordingID)
	log.Printf("    Channel: %s  Guild: %s", req.ChannelID, req.GuildID)
	log.Printf("    Format: %s  Initiated by: %s", req.Format, req.InitiatedBy)

	writeJSON(w, map[string]string{"recordingId": recordingID})
}

// recordingHandler handles /recordings/{id}/segment-upload-url and
// /recordings/{id}/finalize.
func recordingHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	rest := strings.TrimPrefix(r.URL.Path, "/recordings/")
	recordingID, action, ok := strings.Cut(rest, "/")
	if !ok {
		http.Error(w, "Unknown path", http.StatusNotFound)
		return
	}

	switch action {
	case "segment-upload-url":
		slotHandler(w, r, recordingID)
	case "finalize":
		finalizeHandler(w, r, recordingID)
	default:
		http.Error(w, "Unknown action", http.StatusNotFound)
	}
}

func slotHandler(w http.ResponseWriter, r *http.Request, recordingID string) {
	var req slotRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Bad JSON", http.StatusBadRequest)
		return
	}

	ext := "bin"
	if _, sub, ok := strings.Cut(req.ContentType, "/"); ok {
		ext = sub
	}
	blobPath := fmt.Sprintf("recordings/%s/%s/%03d.%s", recordingID, req.SpeakerID, req.Index, ext)

	mu.Lock()
	segments[recordingID]++
	mu.Unlock()

	log.Printf("📦 SEGMENT SLOT: %s", blobPath)
	log.Printf("    Speaker: %s (%s)  Index: %d", req.SpeakerName, req.SpeakerID, req.Index)
	log.Printf("    Start: %dms  Duration: %.2fs  Size: %d bytes", req.StartMs, req.Duration, req.Size)

	writeJSON(w, map[string]string{
		"uploadUrl": "http://" + r.Host + "/blobs/" + blobPath,
		"blobPath":  blobPath,
	})
}

func blobHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPut {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	data, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "Error reading body", http.StatusInternalServerError)
		return
	}

	blobPath := strings.TrimPrefix(r.URL.Path, "/blobs/")
	mu.Lock()
	blobs[blobPath] = len(data)
	mu.Unlock()

	log.Printf("⬆️  BLOB STORED: %s (%d bytes, %s)", blobPath, len(data), r.Header.Get("Content-Type"))
	w.WriteHeader(http.StatusOK)
}

func finalizeHandler(w http.ResponseWriter, r *http.Request, recordingID string) {
	var req finalizeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Bad JSON", http.StatusBadRequest)
		return
	}

	log.Printf("✅ FINALIZE: %s", recordingID)
	log.Printf("    Duration: %.2fs  Total size: %d bytes", req.Duration, req.TotalSize)
	log.Printf("    Participants: %d  Segments: %d  Transcribe: %v",
		req.ParticipantCount, len(req.Segments), req.AutoTranscribe)
	for _, seg := range req.Segments {
		log.Printf("      - %s #%d -> %s (%d bytes)", seg.SpeakerID, seg.Index, seg.BlobPath, seg.Size)
	}

	writeJSON(w, map[string]any{
		"recordingId": recordingID,
		"duration":    req.Duration,
		"totalSize":   req.TotalSize,
		"viewUrl":     "http://" + r.Host + "/view/" + recordingID,
	})
}

// batchHandler handles POST /recordings: one multipart request with a
// metadata field and a file part per merged track.
func batchHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	reader, err := r.MultipartReader()
	if err != nil {
		http.Error(w, "Error parsing multipart", http.StatusBadRequest)
		return
	}

	mu.Lock()
	nextRecording++
	recordingID := fmt.Sprintf("rec-%04d", nextRecording)
	mu.Unlock()

	log.Printf("📼 BATCH UPLOAD: %s", recordingID)

	var totalSize int64
	for {
		part, err := reader.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			http.Error(w, "Error reading part", http.StatusBadRequest)
			return
		}

		if part.FormName() == "metadata" {
			meta, _ := io.ReadAll(part)
			log.Printf("    Metadata: %s", string(meta))
			continue
		}

		data, err := io.ReadAll(part)
		if err != nil {
			http.Error(w, "Error reading track", http.StatusBadRequest)
			return
		}
		totalSize += int64(len(data))
		log.Printf("    Track: %s (%d bytes, %s)",
			part.FileName(), len(data), part.Header.Get("Content-Type"))
	}

	writeJSON(w, map[string]any{
		"recordingId": recordingID,
		"totalSize":   totalSize,
		"viewUrl":     "http://" + r.Host + "/view/" + recordingID,
	})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(v)
}

func main() {
	http.HandleFunc("/recordings/live-init", liveInitHandler)
	http.HandleFunc("/recordings/", recordingHandler)
	http.HandleFunc("/recordings", batchHandler)
	http.HandleFunc("/blobs/", blobHandler)

	port := ":9000"
	log.Printf("🚀 Test Platform Server starting on port %s", port)
	log.Printf("📡 Endpoint: http://localhost%s", port)
	log.Println("💡 Update your config to use: platform.endpoint: http://localhost:9000")

	if err := http.ListenAndServe(port, nil); err != nil {
		log.Fatal("Server failed to start:", err)
	}
}
