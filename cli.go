package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"driver_intake/internal/intake"
	"driver_intake/internal/milestone"
	"driver_intake/internal/registration"
)

const messageTemplates = `
Aggregate template:
📝 *Driver Registration*
👤 Name:
🪪 CPF:
📱 Phone:
🏛️ City:
🚚 Type: Aggregate (own vehicle)
🚘 Plate:

TAC template:
📝 *Driver Registration*
👤 Name:
🪪 CPF:
📱 Phone:
🏛️ City:
🚚 Type: TAC (company vehicle)
🎓 Course completed? (yes/no):
`

// readMessages calls fn for every block of lines in r. An empty line ends a
// block; EOF flushes the last one.
func readMessages(ctx context.Context, r io.Reader, fn func(text string) error) error {
	scanner := bufio.NewScanner(r)
	var block []string

	flush := func() error {
		text := strings.TrimSpace(strings.Join(block, "\n"))
		block = block[:0]
		if text == "" {
			return nil
		}
		return fn(text)
	}

	for scanner.Scan() {
		if ctx.Err() != nil {
			return nil
		}
		line := scanner.Text()
		if strings.TrimSpace(line) == "" {
			if err := flush(); err != nil {
				return err
			}
			continue
		}
		block = append(block, line)
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read messages: %w", err)
	}
	return flush()
}

// promptRegistration asks for every field in turn. The category decides
// whether the course or the plate is asked.
func promptRegistration(r io.Reader, w io.Writer) (registration.Record, error) {
	scanner := bufio.NewScanner(r)
	ask := func(label string) (string, error) {
		fmt.Fprintf(w, "%s: ", label)
		if !scanner.Scan() {
			if err := scanner.Err(); err != nil {
				return "", err
			}
			return "", io.ErrUnexpectedEOF
		}
		return strings.TrimSpace(scanner.Text()), nil
	}

	var rec registration.Record
	fmt.Fprintln(w, "Fill in the driver's data:")
	for _, step := range []struct {
		label string
		field registration.Field
	}{
		{"Name", registration.FieldName},
		{"CPF", registration.FieldNationalID},
		{"Phone", registration.FieldPhone},
		{"City", registration.FieldCity},
	} {
		value, err := ask(step.label)
		if err != nil {
			return rec, err
		}
		rec.Set(step.field, value)
	}

	for rec.Category == registration.CategoryUnknown {
		value, err := ask("Type (TAC or Aggregate)")
		if err != nil {
			return rec, err
		}
		rec.Category = registration.ParseCategory(value)
		if rec.Category == registration.CategoryUnknown {
			fmt.Fprintln(w, "Invalid type, answer TAC or Aggregate.")
		}
	}

	var err error
	switch rec.Category {
	case registration.CategoryTAC:
		rec.CourseCompleted, err = ask("Course completed? (yes/no)")
	case registration.CategoryAggregate:
		rec.LicensePlate, err = ask("Plate")
	}
	return rec, err
}

func describeResult(res intake.Result) string {
	var b strings.Builder
	switch {
	case res.Complete && res.Persisted:
		fmt.Fprintf(&b, "✅ Registration complete for %s, saved to %q (total: %d)", res.Record.Phone, res.Sheet, res.Count)
	case res.Persisted:
		fmt.Fprintf(&b, "📝 Incomplete registration for %s saved to %q, missing: %s", res.Record.Phone, res.Sheet, missingList(res.Missing))
	default:
		fmt.Fprintf(&b, "⏳ Waiting for more data from %s, missing: %s", res.Record.Phone, missingList(res.Missing))
	}
	if res.Milestone != "" {
		fmt.Fprintf(&b, "\n🎉 %s", res.Milestone)
	}
	if res.CounterError != "" {
		fmt.Fprintf(&b, "\n⚠️ Counter not updated: %s", res.CounterError)
	}
	return b.String()
}

func describeError(err error) string {
	switch {
	case errors.Is(err, registration.ErrValidation):
		return "❌ No phone number found in the message. Ask the driver to send it and try again."
	case errors.Is(err, registration.ErrStorage):
		return "❌ Could not save to the workbook (is it open in another program?). The data was kept, send any message from the same phone to retry: " + err.Error()
	default:
		return "❌ " + err.Error()
	}
}

func describeProgress(p milestone.Progress) string {
	if p.AllDone {
		return fmt.Sprintf("📊 Complete registrations: %d\n🏅 Every milestone has been reached! 👏\n", p.Count)
	}
	return fmt.Sprintf("📊 Complete registrations: %d\n🎯 %d more to: %s\n", p.Count, p.Remaining, p.Message)
}

func missingList(missing []registration.Field) string {
	if len(missing) == 0 {
		return "nothing"
	}
	labels := make([]string, 0, len(missing))
	for _, f := range missing {
		labels = append(labels, fieldLabel(f))
	}
	return strings.Join(labels, ", ")
}
