package ocr

// Role selects the extraction prompt.
type Role string

const (
	RoleQuestionPaper Role = "questionPaper"
	RoleAnswerKey     Role = "answerKey"
	RoleAnswerSheet   Role = "answerSheet"
	RoleHandwritten   Role = "handwritten"
)

const questionPaperPrompt = `You are reading scanned pages of an exam question paper.
Transcribe every question exactly as printed, in order.
- Keep the original question numbering (1, 2, 3 or Q1, Q2, sub-parts like 1(a)).
- Keep section headings and instructions.
- Include the marks shown next to each question, e.g. "[5 marks]".
- Reproduce multiple-choice options on separate lines.
- Write formulas in plain text.
Return only the transcription, no commentary.`

const answerKeyPrompt = `You are reading scanned pages of an exam answer key / marking scheme.
Transcribe it in order, keeping it aligned with the question numbers.
- Start each entry with its question number.
- Keep the model answer and every marking point, including how marks are split
  ("1 mark for ...", "award full marks if ...").
- Keep the total marks for each question.
- Write formulas in plain text.
Return only the transcription, no commentary.`

const answerSheetPrompt = `You are reading scanned pages of a student's handwritten answer sheet.
Transcribe what the student wrote as faithfully as possible, in page order.
- Keep the question numbers the student used.
- Do not correct spelling, grammar or wrong answers.
- Where a word or passage cannot be read, write [illegible]; where you are
  unsure, give your best reading followed by [?].
- Describe diagrams briefly in square brackets.
Return only the transcription, no commentary.`

// Prompt returns the instruction prompt for role. Unknown roles and
// handwritten papers get the answer-sheet prompt.
func Prompt(role Role) string {
	switch role {
	case RoleQuestionPaper:
		return questionPaperPrompt
	case RoleAnswerKey:
		return answerKeyPrompt
	default:
		return answerSheetPrompt
	}
}
