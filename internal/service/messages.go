package service

import (
	"fmt"
	"html"
	"time"
)

type message struct {
	Subject string
	Text    string
	HTML    string
}

func codeMessage(code string, expiry time.Duration) message {
	minutes := int(expiry / time.Minute)
	var m message
	m.Subject = "Your verification code: " + code
	m.Text = fmt.Sprintf("Your verification code is %s.\n\nIt expires in %d minutes. "+
		"If you did not sign up, ignore this email.\n", code, minutes)
	m.HTML = fmt.Sprintf("<p>Your verification code is</p><p style=\"font-size:24px;letter-spacing:4px\"><b>%s</b></p>"+
		"<p>It expires in %d minutes. If you did not sign up, ignore this email.</p>", html.EscapeString(code), minutes)
	return m
}

func confirmationMessage(ev SignupVerified) message {
	var m message
	m.Subject = "You're on the list"
	m.Text = fmt.Sprintf("Your email is verified. You are number %d.\n", ev.CalculatedNumber)
	m.HTML = fmt.Sprintf("<p>Your email is verified.</p><p>You are number <b>%d</b>.</p>", ev.CalculatedNumber)
	return m
}
