package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/MrCodeEU/faceattend/pkg/storage"
)

var studentsCmd = &cobra.Command{
	Use:   "students",
	Short: "Manage the student directory",
}

var studentsAddCmd = &cobra.Command{
	Use:   "add <name>",
	Short: "Add a student",
	Args:  cobra.ExactArgs(1),
	RunE:  runStudentsAdd,
}

var studentsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List students",
	Args:  cobra.NoArgs,
	RunE:  runStudentsList,
}

var studentsUpdateCmd = &cobra.Command{
	Use:   "update <student-id>",
	Short: "Change a student's details",
	Long: `Change a student's details. Only the flags given are changed; face
samples and enrollment are kept.`,
	Args: cobra.ExactArgs(1),
	RunE: runStudentsUpdate,
}

var studentsRemoveCmd = &cobra.Command{
	Use:   "remove <student-id>",
	Short: "Remove a student with their attendance and face samples",
	Args:  cobra.ExactArgs(1),
	RunE:  runStudentsRemove,
}

var attendanceCmd = &cobra.Command{
	Use:   "attendance",
	Short: "Inspect attendance records",
}

var attendanceListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the most recent attendance records",
	Args:  cobra.NoArgs,
	RunE:  runAttendanceList,
}

var attendanceDeleteCmd = &cobra.Command{
	Use:   "delete <record-id>",
	Short: "Delete one attendance record",
	Args:  cobra.ExactArgs(1),
	RunE:  runAttendanceDelete,
}

func init() {
	studentsAddCmd.Flags().String("admission-no", "", "Admission number (required)")
	studentsAddCmd.Flags().String("email", "", "Email address (required)")
	studentsAddCmd.Flags().String("phone", "", "Phone number")
	studentsAddCmd.Flags().String("branch", "", "Branch")
	studentsAddCmd.Flags().Int("semester", 0, "Semester")
	_ = studentsAddCmd.MarkFlagRequired("admission-no")
	_ = studentsAddCmd.MarkFlagRequired("email")

	addStudentUpdateFlags(studentsUpdateCmd)

	studentsListCmd.Flags().String("branch", "", "Filter by branch")
	studentsListCmd.Flags().StringP("query", "q", "", "Search by name")

	attendanceListCmd.Flags().Int("limit", 50, "Number of records")
	attendanceListCmd.Flags().String("branch", "", "Filter by branch")

	studentsCmd.AddCommand(studentsAddCmd, studentsListCmd, studentsUpdateCmd, studentsRemoveCmd)
	attendanceCmd.AddCommand(attendanceListCmd, attendanceDeleteCmd)
	rootCmd.AddCommand(studentsCmd, attendanceCmd)
}

func runStudentsAdd(cmd *cobra.Command, args []string) error {
	a, err := newApp(appOptions{})
	if err != nil {
		return err
	}
	defer a.Close()

	flags := cmd.Flags()
	st := &storage.Student{Name: strings.TrimSpace(args[0])}
	st.AdmissionNo, _ = flags.GetString("admission-no")
	st.Email, _ = flags.GetString("email")
	st.Phone, _ = flags.GetString("phone")
	st.Branch, _ = flags.GetString("branch")
	st.Semester, _ = flags.GetInt("semester")

	if err := a.svc.CreateStudent(context.Background(), st); err != nil {
		return err
	}
	fmt.Printf("Student '%s' added with id %s\n", st.Name, st.ID)
	fmt.Printf("Run 'faceattend enroll %s' to capture their face.\n", st.ID)
	return nil
}

func runStudentsList(cmd *cobra.Command, args []string) error {
	a, err := newApp(appOptions{})
	if err != nil {
		return err
	}
	defer a.Close()

	branch, _ := cmd.Flags().GetString("branch")
	query, _ := cmd.Flags().GetString("query")
	students, err := a.svc.ListStudents(context.Background(), storage.StudentFilter{Branch: branch, Query: query})
	if err != nil {
		return err
	}
	if len(students) == 0 {
		fmt.Println("No students found.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tADMISSION\tBRANCH\tENROLLED")
	for _, st := range students {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%t\n", st.ID, st.Name, st.AdmissionNo, st.Branch, st.FaceEnrolled)
	}
	_ = w.Flush()
	fmt.Printf("\nTotal: %d student(s)\n", len(students))
	return nil
}

func runStudentsUpdate(cmd *cobra.Command, args []string) error {
	a, err := newApp(appOptions{})
	if err != nil {
		return err
	}
	defer a.Close()

	ctx := context.Background()
	st, err := a.svc.GetStudent(ctx, args[0])
	if err != nil {
		return err
	}
	applyStudentFlags(cmd, st)

	if err := a.svc.UpdateStudent(ctx, st); err != nil {
		return err
	}
	fmt.Printf("Student %s updated: %s (%s, %s)\n", st.ID, st.Name, st.AdmissionNo, st.Branch)
	return nil
}

func addStudentUpdateFlags(cmd *cobra.Command) {
	cmd.Flags().String("name", "", "Name")
	cmd.Flags().String("admission-no", "", "Admission number")
	cmd.Flags().String("email", "", "Email address")
	cmd.Flags().String("phone", "", "Phone number")
	cmd.Flags().String("branch", "", "Branch")
	cmd.Flags().Int("semester", 0, "Semester")
}

// applyStudentFlags copies the flags set on cmd onto st.
func applyStudentFlags(cmd *cobra.Command, st *storage.Student) {
	flags := cmd.Flags()
	for name, dst := range map[string]*string{
		"name":         &st.Name,
		"admission-no": &st.AdmissionNo,
		"email":        &st.Email,
		"phone":        &st.Phone,
		"branch":       &st.Branch,
	} {
		if flags.Changed(name) {
			v, _ := flags.GetString(name)
			*dst = strings.TrimSpace(v)
		}
	}
	if flags.Changed("email") {
		st.Email = strings.ToLower(st.Email)
	}
	if flags.Changed("semester") {
		st.Semester, _ = flags.GetInt("semester")
	}
}

func runStudentsRemove(cmd *cobra.Command, args []string) error {
	a, err := newApp(appOptions{})
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.svc.DeleteStudent(context.Background(), args[0]); err != nil {
		return err
	}
	fmt.Printf("Student %s has been removed.\n", args[0])
	fmt.Println("Run 'faceattend train' to drop them from the model.")
	return nil
}

func runAttendanceList(cmd *cobra.Command, args []string) error {
	a, err := newApp(appOptions{})
	if err != nil {
		return err
	}
	defer a.Close()

	limit, _ := cmd.Flags().GetInt("limit")
	branch, _ := cmd.Flags().GetString("branch")
	records, err := a.svc.RecentAttendance(context.Background(), limit, branch)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		fmt.Println("No attendance records.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tDATE\tTIME\tSESSION\tNAME\tBRANCH\tSTATUS")
	for _, r := range records {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			r.ID, r.Date, r.Timestamp.Format("15:04:05"), r.Session, r.Name, r.Branch, r.Status)
	}
	return w.Flush()
}

func runAttendanceDelete(cmd *cobra.Command, args []string) error {
	a, err := newApp(appOptions{})
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.svc.DeleteAttendance(context.Background(), args[0]); err != nil {
		return err
	}
	fmt.Printf("Attendance record %s deleted.\n", args[0])
	return nil
}
