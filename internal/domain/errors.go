package domain

import "errors"

var (
	// ErrFlowNotFound is returned when no live flow exists for a (user, lesson) pair.
	ErrFlowNotFound = errors.New("lesson flow not found")
	// ErrLessonNotFound indicates the lesson content could not be loaded.
	ErrLessonNotFound = errors.New("lesson not found")
	// ErrEmptyLesson indicates a lesson with no sections or no slides; start is aborted.
	ErrEmptyLesson = errors.New("lesson has no presentable content")
	// ErrSlideOutOfRange rejects navigation outside [0, totalSlides).
	ErrSlideOutOfRange = errors.New("slide index out of range")
	// ErrSectionNotFound rejects a jump to an unknown section id.
	ErrSectionNotFound = errors.New("section not found")
	// ErrGenerationFailed wraps content-generator failures; callers recover with a fallback.
	ErrGenerationFailed = errors.New("content generation failed")
	// ErrInvalidSpeed rejects non-positive playback speed multipliers.
	ErrInvalidSpeed = errors.New("playback speed must be positive")
)
