// Package quiz содержит доменную модель викторины.
//
// Пакет определяет:
//
//   - Question и Bank: неизменяемые вопросы и упорядоченные банки
//   - Loader: превращение табличных строк (CSV, таблицы) в Bank с частичным успехом
//   - Grade: чистая взвешенная оценка попытки
//   - Session: машина состояний одной попытки студента
//
// # Загрузка банка
//
// Заголовки распознаются по таблице псевдонимов (английские и арабские):
//
//	bank, rowErrs, err := quiz.LoadCSV(f, quiz.CSVOptions{
//	    LoadOptions: quiz.DefaultLoadOptions("algebra-1"),
//	})
//	if err != nil {
//	    // ErrMissingColumn, ErrAmbiguousColumn или ErrEmptyBank
//	}
//	for _, e := range rowErrs {
//	    log.Printf("skipped %v", e)
//	}
//
// # Сессия
//
// Session не содержит таймеров и блокировок. Время передаётся явно, а
// сериализация доступа лежит на SessionManager из слоя application.
//
//	s, _ := quiz.NewSession(id, studentID, bank, quiz.Order(bank, false, 0), 1, nil)
//	_ = s.Begin(now)
//	res, err := s.Submit("algebra-1-1", "B", now)
package quiz
