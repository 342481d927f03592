package response

import (
	"context"
	"errors"

	"github.com/stemsi/exstem-speaking/internal/capture"
	"github.com/stemsi/exstem-speaking/internal/flow"
	"github.com/stemsi/exstem-speaking/internal/micgate"
	"github.com/stemsi/exstem-speaking/internal/playback"
	"github.com/stemsi/exstem-speaking/internal/service"
	"github.com/stemsi/exstem-speaking/internal/submission"
)

// ErrCode is a typed error code enum for consistent API error identification.
type ErrCode string

const (
	// ─── Authentication ────────────────────────────────────────────────
	ErrTokenRequired ErrCode = "TOKEN_REQUIRED"
	ErrTokenInvalid  ErrCode = "TOKEN_INVALID"
	ErrTokenExpired  ErrCode = "TOKEN_EXPIRED"

	// ─── Authorization ─────────────────────────────────────────────────
	ErrForbidden           ErrCode = "FORBIDDEN"
	ErrCandidateAccessOnly ErrCode = "CANDIDATE_ACCESS_ONLY"

	// ─── Validation ────────────────────────────────────────────────────
	ErrValidation     ErrCode = "VALIDATION_ERROR"
	ErrInvalidID      ErrCode = "INVALID_ID"
	ErrInvalidPayload ErrCode = "INVALID_PAYLOAD"
	ErrInvalidAction  ErrCode = "INVALID_ACTION"

	// ─── Resources ─────────────────────────────────────────────────────
	ErrNotFound ErrCode = "NOT_FOUND"

	// ─── Exam-specific ─────────────────────────────────────────────────
	ErrExamNotAvailable ErrCode = "EXAM_NOT_AVAILABLE"
	ErrNoQuestions      ErrCode = "NO_QUESTIONS"
	ErrSessionActive    ErrCode = "SESSION_ALREADY_ACTIVE"
	ErrSessionClosed    ErrCode = "SESSION_CLOSED"
	ErrSessionNotDone   ErrCode = "SESSION_NOT_COMPLETE"

	// ─── Microphone & media ────────────────────────────────────────────
	ErrMicCheckRequired   ErrCode = "MIC_CHECK_REQUIRED"
	ErrEmptyTestRecording ErrCode = "EMPTY_TEST_RECORDING"
	ErrPermissionDenied   ErrCode = "PERMISSION_DENIED"
	ErrDeviceUnavailable  ErrCode = "DEVICE_UNAVAILABLE"
	ErrPlaybackDegraded   ErrCode = "PLAYBACK_DEGRADED"
	ErrEncodingFailed     ErrCode = "ENCODING_FAILED"

	// ─── Submission ────────────────────────────────────────────────────
	ErrSubmissionFailed ErrCode = "SUBMISSION_FAILED"

	// ─── Server ────────────────────────────────────────────────────────
	ErrRateLimitExceeded ErrCode = "RATE_LIMIT_EXCEEDED"
	ErrInternal          ErrCode = "INTERNAL_ERROR"
)

// CodeFor maps a domain error to its wire code.
func CodeFor(err error) ErrCode {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, capture.ErrPermissionDenied):
		return ErrPermissionDenied
	case errors.Is(err, capture.ErrDeviceUnavailable):
		return ErrDeviceUnavailable
	case errors.Is(err, playback.ErrPlaybackDegraded):
		return ErrPlaybackDegraded
	case errors.Is(err, capture.ErrEncodingFailed):
		return ErrEncodingFailed
	case errors.Is(err, submission.ErrSubmissionFailed):
		return ErrSubmissionFailed
	case errors.Is(err, micgate.ErrGateClosed), errors.Is(err, micgate.ErrPermissionRequired):
		return ErrMicCheckRequired
	case errors.Is(err, micgate.ErrEmptyTestRecording), errors.Is(err, micgate.ErrNoTestRecording):
		return ErrEmptyTestRecording
	case errors.Is(err, flow.ErrAlreadyStarted), errors.Is(err, service.ErrSessionAlreadyActive):
		return ErrSessionActive
	case errors.Is(err, flow.ErrSessionClosed), errors.Is(err, context.Canceled):
		return ErrSessionClosed
	case errors.Is(err, flow.ErrNotComplete), errors.Is(err, flow.ErrHandoffInProgress), errors.Is(err, flow.ErrAlreadySubmitted):
		return ErrSessionNotDone
	case errors.Is(err, flow.ErrEmptyExam), errors.Is(err, service.ErrExamEmpty):
		return ErrNoQuestions
	case errors.Is(err, service.ErrTokenExpired):
		return ErrTokenExpired
	case errors.Is(err, service.ErrExamNotFound):
		return ErrNotFound
	case errors.Is(err, service.ErrExamInvalid), errors.Is(err, flow.ErrDuplicateQuestion):
		return ErrExamNotAvailable
	default:
		return ErrInternal
	}
}

// GetMessage returns a human-readable message for a given error code.
func GetMessage(code ErrCode) string {
	switch code {
	// ─── Authentication ────────────────────────────────────────────────
	case ErrTokenRequired:
		return "Token autentikasi diperlukan."
	case ErrTokenInvalid:
		return "Token autentikasi tidak valid."
	case ErrTokenExpired:
		return "Token autentikasi telah kedaluwarsa."

	// ─── Authorization ─────────────────────────────────────────────────
	case ErrForbidden:
		return "Anda tidak memiliki izin untuk mengakses sumber daya ini."
	case ErrCandidateAccessOnly:
		return "Sumber daya ini terbatas untuk peserta ujian."

	// ─── Validation ────────────────────────────────────────────────────
	case ErrValidation:
		return "Validasi gagal. Silakan periksa masukan Anda."
	case ErrInvalidID:
		return "Format ID tidak valid."
	case ErrInvalidPayload:
		return "Payload permintaan tidak valid."
	case ErrInvalidAction:
		return "Aksi tidak dikenali."

	// ─── Resources ─────────────────────────────────────────────────────
	case ErrNotFound:
		return "Sumber daya tidak ditemukan."

	// ─── Exam-specific ─────────────────────────────────────────────────
	case ErrExamNotAvailable:
		return "Ujian ini saat ini tidak tersedia."
	case ErrNoQuestions:
		return "Ujian ini tidak memiliki pertanyaan."
	case ErrSessionActive:
		return "Sesi ujian sudah berjalan."
	case ErrSessionClosed:
		return "Sesi ujian telah ditutup."
	case ErrSessionNotDone:
		return "Sesi ujian belum selesai."

	// ─── Microphone & media ────────────────────────────────────────────
	case ErrMicCheckRequired:
		return "Pemeriksaan mikrofon harus diselesaikan terlebih dahulu."
	case ErrEmptyTestRecording:
		return "Rekaman uji kosong. Silakan rekam ulang."
	case ErrPermissionDenied:
		return "Izin mikrofon ditolak."
	case ErrDeviceUnavailable:
		return "Mikrofon tidak tersedia."
	case ErrPlaybackDegraded:
		return "Audio soal gagal diputar. Ujian tetap berlanjut."
	case ErrEncodingFailed:
		return "Rekaman jawaban gagal diproses."

	// ─── Submission ────────────────────────────────────────────────────
	case ErrSubmissionFailed:
		return "Pengiriman jawaban gagal. Silakan coba kirim ulang."

	// ─── Server ────────────────────────────────────────────────────────
	case ErrRateLimitExceeded:
		return "Terlalu banyak permintaan. Silakan coba lagi nanti."
	case ErrInternal:
		return "Terjadi kesalahan server internal."
	default:
		return "Terjadi kesalahan yang tidak terduga."
	}
}
