package catalog

// Document is one course described in a catalog YAML file.
type Document struct {
	ID                           string    `yaml:"id"`
	Title                        string    `yaml:"title"`
	Status                       string    `yaml:"status"`
	EnforceSequentialAccess      bool      `yaml:"enforce_sequential_access"`
	RequireQuizzesForCertificate bool      `yaml:"require_quizzes_for_certificate"`
	Chapters                     []Chapter `yaml:"chapters"`

	// Path is the file the document was read from, empty when parsed from memory.
	Path string `yaml:"-"`
}

// Chapter is a chapter of a catalog course. Key names it for unlock_after
// references from later chapters.
type Chapter struct {
	Key         string   `yaml:"key"`
	Name        string   `yaml:"name"`
	Description string   `yaml:"description"`
	Locked      bool     `yaml:"locked"`
	UnlockAfter string   `yaml:"unlock_after"`
	Lessons     []Lesson `yaml:"lessons"`
}

// Lesson is a lesson of a catalog chapter. UnlockAfter names an earlier
// lesson of the same chapter by key.
type Lesson struct {
	Key                     string   `yaml:"key"`
	Name                    string   `yaml:"name"`
	Content                 string   `yaml:"content"`
	Locked                  bool     `yaml:"locked"`
	UnlockAfter             string   `yaml:"unlock_after"`
	Mandatory               *bool    `yaml:"mandatory"` // default true
	RequiresQuizPass        bool     `yaml:"requires_quiz_pass"`
	MinTimeSpent            string   `yaml:"min_time_spent"`
	MinQuizScore            *float64 `yaml:"min_quiz_score"`
	MinCompletionPercentage *float64 `yaml:"min_completion_percentage"`
	Quizzes                 []Quiz   `yaml:"quizzes"`
}

// Quiz is a quiz attached to a catalog lesson.
type Quiz struct {
	Name                   string     `yaml:"name"`
	TimeLimit              string     `yaml:"time_limit"`
	PassingScore           *float64   `yaml:"passing_score"`
	MaxAttempts            *int       `yaml:"max_attempts"`
	BlocksLessonCompletion bool       `yaml:"blocks_lesson_completion"`
	IsPrerequisite         bool       `yaml:"is_prerequisite"`
	Questions              []Question `yaml:"questions"`
}

// Question is a gradable quiz question.
type Question struct {
	Text        string   `yaml:"text"`
	Explanation string   `yaml:"explanation"`
	Type        string   `yaml:"type"`
	Points      float64  `yaml:"points"`
	Options     []Option `yaml:"options"`
}

// Option is an answer option of a question.
type Option struct {
	Text    string `yaml:"text"`
	Correct bool   `yaml:"correct"`
}
