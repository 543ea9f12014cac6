package response

// ErrCode is a typed error code enum for consistent API error identification.
type ErrCode string

const (
	// ─── Authentication ────────────────────────────────────────────────
	ErrTokenRequired ErrCode = "TOKEN_REQUIRED"
	ErrTokenInvalid  ErrCode = "TOKEN_INVALID"
	ErrTokenExpired  ErrCode = "TOKEN_EXPIRED"

	// ─── Authorization ─────────────────────────────────────────────────
	ErrForbidden        ErrCode = "FORBIDDEN"
	ErrPermissionDenied ErrCode = "PERMISSION_DENIED"
	ErrNotOwner         ErrCode = "NOT_DOCUMENT_OWNER"

	// ─── Validation ────────────────────────────────────────────────────
	ErrValidation     ErrCode = "VALIDATION_ERROR"
	ErrInvalidID      ErrCode = "INVALID_ID"
	ErrInvalidPayload ErrCode = "INVALID_PAYLOAD"

	// ─── Resources ─────────────────────────────────────────────────────
	ErrNotFound        ErrCode = "NOT_FOUND"
	ErrConflict        ErrCode = "CONFLICT"
	ErrActionForbidden ErrCode = "ACTION_FORBIDDEN"

	// ─── Evaluation ────────────────────────────────────────────────────
	ErrNoAnswerSheet          ErrCode = "NO_ANSWER_SHEET"
	ErrPapersMissing          ErrCode = "PAPERS_MISSING"
	ErrEvaluationBusy         ErrCode = "EVALUATION_IN_PROGRESS"
	ErrEvaluationFailed       ErrCode = "EVALUATION_FAILED"
	ErrEvaluationDeleted      ErrCode = "EVALUATION_DELETED"
	ErrEvaluationNotCompleted ErrCode = "EVALUATION_NOT_COMPLETED"
	ErrQuestionIndex          ErrCode = "QUESTION_INDEX_OUT_OF_RANGE"
	ErrInvalidScore           ErrCode = "INVALID_SCORE"

	// ─── Extraction ────────────────────────────────────────────────────
	ErrExtractionFailed    ErrCode = "EXTRACTION_FAILED"
	ErrRasterizationFailed ErrCode = "RASTERIZATION_FAILED"
	ErrDownloadFailed      ErrCode = "DOWNLOAD_FAILED"
	ErrDownloadTimeout     ErrCode = "DOWNLOAD_TIMEOUT"
	ErrBundleFailed        ErrCode = "BUNDLE_FAILED"

	// ─── Media ─────────────────────────────────────────────────────────
	ErrFileRequired    ErrCode = "FILE_REQUIRED"
	ErrUnsupportedFile ErrCode = "UNSUPPORTED_FILE_TYPE"
	ErrFileTooLarge    ErrCode = "FILE_TOO_LARGE"

	// ─── Rate Limiting ─────────────────────────────────────────────────
	ErrRateLimitExceeded ErrCode = "RATE_LIMIT_EXCEEDED"

	// ─── Server ────────────────────────────────────────────────────────
	ErrInternal ErrCode = "INTERNAL_ERROR"
)

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
	case ErrPermissionDenied:
		return "Izin ditolak."
	case ErrNotOwner:
		return "Anda bukan pemilik dokumen ini."

	// ─── Validation ────────────────────────────────────────────────────
	case ErrValidation:
		return "Validasi gagal. Silakan periksa masukan Anda."
	case ErrInvalidID:
		return "Format ID tidak valid."
	case ErrInvalidPayload:
		return "Payload permintaan tidak valid."

	// ─── Resources ─────────────────────────────────────────────────────
	case ErrNotFound:
		return "Sumber daya tidak ditemukan."
	case ErrConflict:
		return "Sumber daya sudah ada."
	case ErrActionForbidden:
		return "Tindakan ini tidak diperbolehkan."

	// ─── Evaluation ────────────────────────────────────────────────────
	case ErrNoAnswerSheet:
		return "Lembar jawaban siswa untuk tes ini belum diunggah."
	case ErrPapersMissing:
		return "Soal atau kunci jawaban untuk tes ini belum diunggah."
	case ErrEvaluationBusy:
		return "Penilaian untuk siswa ini sedang berjalan."
	case ErrEvaluationFailed:
		return "Penilaian otomatis gagal."
	case ErrEvaluationDeleted:
		return "Penilaian dihapus saat sedang diproses."
	case ErrEvaluationNotCompleted:
		return "Hanya penilaian yang sudah selesai yang dapat diubah."
	case ErrQuestionIndex:
		return "Nomor soal di luar jangkauan."
	case ErrInvalidScore:
		return "Nilai tidak valid."

	// ─── Extraction ────────────────────────────────────────────────────
	case ErrExtractionFailed:
		return "Ekstraksi teks gagal."
	case ErrRasterizationFailed:
		return "Dokumen tidak dapat diubah menjadi gambar."
	case ErrDownloadFailed:
		return "Dokumen tidak dapat diunduh."
	case ErrDownloadTimeout:
		return "Waktu unduh dokumen habis."
	case ErrBundleFailed:
		return "Berkas halaman tidak dapat disimpan."

	// ─── Media ─────────────────────────────────────────────────────────
	case ErrFileRequired:
		return "Unggah file diperlukan."
	case ErrUnsupportedFile:
		return "Jenis file tidak didukung."
	case ErrFileTooLarge:
		return "Ukuran file melebihi batas."

	// ─── Rate Limiting ─────────────────────────────────────────────────
	case ErrRateLimitExceeded:
		return "Terlalu banyak permintaan. Silakan coba lagi nanti."

	// ─── Server ────────────────────────────────────────────────────────
	case ErrInternal:
		return "Terjadi kesalahan server internal."
	default:
		return "Terjadi kesalahan yang tidak terduga."
	}
}
