package rate

func loginEmailKey(email string) string {
	return "ta:rl:login:" + email
}

func loginIPKey(ip string) string {
	return "ta:rl:loginip:" + ip
}

func codeSendIPKey(ip string) string {
	return "ta:rl:codeip:" + ip
}
