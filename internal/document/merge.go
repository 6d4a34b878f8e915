// Package document применяет удаленные правки к тексту документа.
package document

import (
	"strings"

	"Pairline/internal/models"
)

// ApplyEdit заменяет текст в диапазоне rng на text.
// Смещения считаются в символах (рунах), а не в байтах.
// Позиции за концом документа прижимаются к его границам: недостающие строки
// добавляются пустыми, колонка обрезается по длине строки.
// Отрицательные позиции считаются нулевыми, а конец раньше начала
// превращает правку во вставку в начальной позиции.
func ApplyEdit(doc string, rng models.Range, text string) string {
	rng = normalize(rng)
	lines := strings.Split(doc, "\n")
	for len(lines) <= rng.End.Line {
		lines = append(lines, "")
	}

	first := []rune(lines[rng.Start.Line])
	last := first
	if rng.End.Line != rng.Start.Line {
		last = []rune(lines[rng.End.Line])
	}

	head := string(first[:clamp(rng.Start.Character, len(first))])
	tail := string(last[clamp(rng.End.Character, len(last)):])

	// Многострочный диапазон схлопывается в одну строку
	merged := make([]string, 0, len(lines)-(rng.End.Line-rng.Start.Line))
	merged = append(merged, lines[:rng.Start.Line]...)
	merged = append(merged, head+text+tail)
	merged = append(merged, lines[rng.End.Line+1:]...)

	return strings.Join(merged, "\n")
}

func normalize(rng models.Range) models.Range {
	rng.Start.Line = max(rng.Start.Line, 0)
	rng.Start.Character = max(rng.Start.Character, 0)
	rng.End.Line = max(rng.End.Line, 0)
	rng.End.Character = max(rng.End.Character, 0)

	if rng.End.Line < rng.Start.Line ||
		(rng.End.Line == rng.Start.Line && rng.End.Character < rng.Start.Character) {
		rng.End = rng.Start
	}
	return rng
}

func clamp(n, limit int) int {
	if n < 0 {
		return 0
	}
	if n > limit {
		return limit
	}
	return n
}
